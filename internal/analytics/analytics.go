// Package analytics aggregates graded results for the results views.
package analytics

import (
	"sort"
	"strings"

	"exam-runner/internal/domain"
)

// DefaultPassPercent is the backend's pass mark: 40% of an exam's marks.
const DefaultPassPercent = 40.0

// Grades lists the grade buckets from best to worst.
var Grades = []string{"A+", "A", "B+", "B", "C", "D", "F"}

var gradeFloors = []float64{90, 80, 70, 60, 50, 40}

// Grade buckets a percentage.
func Grade(percentage float64) string {
	for i, floor := range gradeFloors {
		if percentage >= floor {
			return Grades[i]
		}
	}
	return "F"
}

type GradeCount struct {
	Grade string `json:"grade"`
	Count int    `json:"count"`
}

type GroupAverage struct {
	Name    string  `json:"name"`
	Count   int     `json:"count"`
	Average float64 `json:"average"`
}

// Summary holds percentage-based statistics over a set of results.
type Summary struct {
	Total       int            `json:"total"`
	Average     float64        `json:"average"`
	Highest     float64        `json:"highest"`
	Lowest      float64        `json:"lowest"`
	PassRate    float64        `json:"passRate"`
	Grades      []GradeCount   `json:"grades"`
	BySubject   []GroupAverage `json:"bySubject"`
	ByExam      []GroupAverage `json:"byExam"`
	PassPercent float64        `json:"passPercent"`
}

// Subject is the first word of an exam title.
func Subject(title string) string {
	fields := strings.Fields(title)
	if len(fields) == 0 {
		return "Other"
	}
	return fields[0]
}

// Summarize computes statistics over results. Percentages are relative to
// each exam's total marks. A non-positive passPercent means DefaultPassPercent.
func Summarize(results []domain.ExamResult, passPercent float64) Summary {
	if passPercent <= 0 {
		passPercent = DefaultPassPercent
	}
	s := Summary{Total: len(results), PassPercent: passPercent}
	counts := make(map[string]int, len(Grades))
	for _, g := range Grades {
		counts[g] = 0
	}
	if len(results) == 0 {
		s.Grades = gradeCounts(counts)
		return s
	}

	subjects := newGrouper()
	exams := newGrouper()
	var sum float64
	passed := 0
	for i, r := range results {
		p := r.Percentage()
		sum += p
		if i == 0 || p > s.Highest {
			s.Highest = p
		}
		if i == 0 || p < s.Lowest {
			s.Lowest = p
		}
		if p >= passPercent {
			passed++
		}
		counts[Grade(p)]++
		subjects.add(Subject(r.Exam.Title), p)
		title := r.Exam.Title
		if title == "" {
			title = "Exam " + r.ExamID.String()
		}
		exams.add(title, p)
	}
	s.Average = sum / float64(len(results))
	s.PassRate = float64(passed) / float64(len(results)) * 100
	s.Grades = gradeCounts(counts)
	s.BySubject = subjects.averages()
	s.ByExam = exams.averages()
	return s
}

func gradeCounts(counts map[string]int) []GradeCount {
	out := make([]GradeCount, 0, len(Grades))
	for _, g := range Grades {
		out = append(out, GradeCount{Grade: g, Count: counts[g]})
	}
	return out
}

type grouper struct {
	order []string
	sums  map[string]float64
	count map[string]int
}

func newGrouper() *grouper {
	return &grouper{sums: make(map[string]float64), count: make(map[string]int)}
}

func (g *grouper) add(name string, p float64) {
	if _, ok := g.count[name]; !ok {
		g.order = append(g.order, name)
	}
	g.sums[name] += p
	g.count[name]++
}

// averages returns groups sorted by name.
func (g *grouper) averages() []GroupAverage {
	out := make([]GroupAverage, 0, len(g.order))
	for _, name := range g.order {
		out = append(out, GroupAverage{Name: name, Count: g.count[name], Average: g.sums[name] / float64(g.count[name])})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
