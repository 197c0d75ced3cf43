package redis

import (
	"fmt"

	"exam-runner/internal/domain"
)

func examPayloadKey(examID domain.ExamID) string {
	return fmt.Sprintf("exam:%s:payload", examID)
}

func draftKey(examID domain.ExamID, owner string) string {
	return fmt.Sprintf("exam:%s:draft:%s", examID, owner)
}

func sessionKey(sessionID string) string {
	return "exam:session:" + sessionID
}
