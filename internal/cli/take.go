package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"exam-runner/internal/app"
	"exam-runner/internal/clock"
	"exam-runner/internal/domain"
	"exam-runner/internal/gateway"
	"github.com/spf13/cobra"
)

// NewTakeCmd runs one exam attempt in the terminal.
func NewTakeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "take <exam-id>",
		Short: "Take an exam interactively",
		Long: `Take an exam interactively. Answer with "<question>=<option>", where both
may be given by number (e.g. 2=3) or the option by its text (e.g. 2=Paris).
Type "submit" to hand in, "show" to list answers and "quit" to abandon.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			rt, err := loadRuntime(ctx, *configPath)
			if err != nil {
				return err
			}
			defer rt.close()

			viewer, err := gateway.ViewerFromToken(rt.cfg.Gateway.Token)
			if err != nil {
				return fmt.Errorf("exam token: %w", err)
			}
			service := rt.newService()
			defer service.Shutdown()
			return takeExam(ctx, service, viewer, args[0], cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func takeExam(ctx context.Context, service *app.ExamService, viewer domain.Viewer, rawExamID string, in io.Reader, out io.Writer) error {
	session, err := service.StartSession(ctx, viewer, rawExamID)
	if err != nil {
		return err
	}
	exam := session.Exam()
	printExam(out, exam, session.Answers())

	events, cancel, err := service.Subscribe(viewer, session.ID())
	if err != nil {
		return err
	}
	defer cancel()

	done := make(chan struct{})
	defer close(done)
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- strings.TrimSpace(scanner.Text()):
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = service.Close(viewer, session.ID())
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return report(out, session.Snapshot())
			}
			printEvent(out, ev)
		case line, ok := <-lines:
			if !ok {
				lines = nil
				handIn(ctx, service, viewer, session, out)
				continue
			}
			if quit := handleLine(ctx, service, viewer, session, exam, line, out); quit {
				fmt.Fprintln(out, "Exam abandoned.")
				return nil
			}
		}
	}
}

func handleLine(ctx context.Context, service *app.ExamService, viewer domain.Viewer, session *app.Session, exam domain.Exam, line string, out io.Writer) bool {
	switch strings.ToLower(line) {
	case "":
		return false
	case "quit", "exit":
		_ = service.Close(viewer, session.ID())
		return true
	case "show":
		printAnswers(out, exam, session.Answers())
		return false
	case "help", "?":
		fmt.Fprintln(out, `Commands: <question>=<option>, show, submit, quit`)
		return false
	case "submit", "retry":
		if _, err := service.Submit(ctx, viewer, session.ID()); err != nil && !errors.Is(err, domain.ErrSubmitInFlight) {
			fmt.Fprintf(out, "Submit failed: %v\n", err)
		}
		return false
	}

	q, option, err := parseAnswer(exam, line)
	if err != nil {
		fmt.Fprintf(out, "%v\n", err)
		return false
	}
	if err := service.Answer(ctx, viewer, session.ID(), q.ID, option); err != nil {
		fmt.Fprintf(out, "Answer not recorded: %v\n", err)
		return false
	}
	fmt.Fprintf(out, "Recorded %s\n", option)
	return false
}

// handIn submits once input has ended. Nobody is left to type "submit", so
// retryable failures are retried until the session settles.
func handIn(ctx context.Context, service *app.ExamService, viewer domain.Viewer, session *app.Session, out io.Writer) {
	for {
		snap := session.Snapshot()
		if snap.State != app.StateOpen && !(snap.State == app.StateSubmitFailed && snap.Retryable) {
			return
		}
		if _, err := service.Submit(ctx, viewer, session.ID()); err != nil {
			if errors.Is(err, domain.ErrSubmitInFlight) || errors.Is(err, domain.ErrSessionNotFound) {
				return
			}
			fmt.Fprintf(out, "Submit failed: %v\n", err)
		}
	}
}

// parseAnswer resolves "<question>=<option>" against the exam. The question
// is its position in the exam; the option is a 1-based index or its text.
func parseAnswer(exam domain.Exam, line string) (domain.Question, string, error) {
	left, right, ok := strings.Cut(line, "=")
	if !ok {
		return domain.Question{}, "", fmt.Errorf("unrecognised input %q, type help", line)
	}
	pos, err := strconv.Atoi(strings.TrimSpace(left))
	if err != nil || pos < 1 || pos > len(exam.Questions) {
		return domain.Question{}, "", fmt.Errorf("no question %q", strings.TrimSpace(left))
	}
	q := exam.Questions[pos-1]
	right = strings.TrimSpace(right)
	if q.HasOption(right) {
		return q, right, nil
	}
	if n, err := strconv.Atoi(right); err == nil && n >= 1 && n <= len(q.Options) {
		return q, q.Options[n-1], nil
	}
	return domain.Question{}, "", fmt.Errorf("question %d has no option %q", pos, right)
}

func printExam(out io.Writer, exam domain.Exam, answers map[domain.QuestionID]string) {
	fmt.Fprintf(out, "%s\n", exam.Title)
	if exam.Description != "" {
		fmt.Fprintf(out, "%s\n", exam.Description)
	}
	fmt.Fprintf(out, "Duration: %s, %d questions, %d marks\n\n",
		clock.FormatTime(exam.DurationSeconds()), len(exam.Questions), exam.TotalMarks())
	for i, q := range exam.Questions {
		fmt.Fprintf(out, "%d. %s (%d marks)\n", i+1, q.Text, q.Marks)
		for j, opt := range q.Options {
			marker := " "
			if answers[q.ID] == opt {
				marker = "*"
			}
			fmt.Fprintf(out, "  %s %d) %s\n", marker, j+1, opt)
		}
	}
	fmt.Fprintln(out)
}

func printAnswers(out io.Writer, exam domain.Exam, answers map[domain.QuestionID]string) {
	for i, q := range exam.Questions {
		a, ok := answers[q.ID]
		if !ok {
			a = "-"
		}
		fmt.Fprintf(out, "%d. %s\n", i+1, a)
	}
	fmt.Fprintf(out, "%d of %d answered\n", len(answers), len(exam.Questions))
}

func printEvent(out io.Writer, ev app.Event) {
	switch ev.Type {
	case app.EventTick:
		if ev.Remaining == 0 {
			fmt.Fprintln(out, "Time is up.")
		} else if ev.Remaining%60 == 0 || ev.Remaining <= 10 {
			fmt.Fprintf(out, "Time left: %s\n", ev.Display)
		}
	case app.EventState:
		switch ev.State {
		case app.StateSubmitting:
			fmt.Fprintln(out, "Submitting...")
		case app.StateExpiredSubmitting:
			fmt.Fprintln(out, "Submitting your answers automatically...")
		}
	case app.EventError:
		fmt.Fprintf(out, "Submission failed: %s\n", ev.Error)
	}
}

func report(out io.Writer, snap app.Snapshot) error {
	switch snap.State {
	case app.StateSubmitted:
		if snap.Receipt != nil {
			fmt.Fprintf(out, "Exam submitted. Marks: %d\n", snap.Receipt.TotalMarks)
		} else {
			fmt.Fprintln(out, "Exam submitted.")
		}
		return nil
	case app.StateAbandoned:
		fmt.Fprintln(out, "Exam abandoned.")
		return nil
	default:
		return fmt.Errorf("exam ended in %s: %s", snap.State, snap.Error)
	}
}
