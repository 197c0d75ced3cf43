package domain

// ViewerKind tags which perspective a caller has on an exam.
type ViewerKind string

const (
	ViewerStudent ViewerKind = "student"
	ViewerTeacher ViewerKind = "teacher"
)

// Operation is a gateway-backed action gated by the viewer kind.
type Operation string

const (
	OpTakeExam      Operation = "take_exam"
	OpListExams     Operation = "list_exams"
	OpViewResults   Operation = "view_results"
	OpViewAnalytics Operation = "view_analytics"
	OpCreateExam    Operation = "create_exam"
)

var permissions = map[ViewerKind]map[Operation]bool{
	ViewerStudent: {OpTakeExam: true, OpListExams: true},
	ViewerTeacher: {OpListExams: true, OpViewResults: true, OpViewAnalytics: true, OpCreateExam: true},
}

// Viewer is either a Teacher or a Student. Token is the bearer token the
// viewer authenticated with; backend calls made on its behalf carry it.
type Viewer struct {
	Kind    ViewerKind `json:"kind"`
	Subject string     `json:"subject,omitempty"`
	Token   string     `json:"-"`
}

func Student(subject string) Viewer { return Viewer{Kind: ViewerStudent, Subject: subject} }
func Teacher(subject string) Viewer { return Viewer{Kind: ViewerTeacher, Subject: subject} }

// Can reports whether the viewer may perform op.
func (v Viewer) Can(op Operation) bool {
	return permissions[v.Kind][op]
}

// Require returns ErrForbidden when the viewer may not perform op.
func (v Viewer) Require(op Operation) error {
	if !v.Can(op) {
		return ErrForbidden
	}
	return nil
}
