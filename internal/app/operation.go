package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"cfgedit/internal/cfgedit"
	"cfgedit/internal/diff"
)

// diffContext is the number of unchanged lines shown around each change.
const diffContext = 3

// ErrAborted is returned when the user walks away from a read-only or
// conflicting document.
var ErrAborted = errors.New("edit aborted")

// Prompter asks the user to decide during an edit.
type Prompter interface {
	Confirm(question string) (bool, error)
	// Choose returns the index of the picked option.
	Choose(question string, options []string) (int, error)
}

// EditorFunc opens path in an editor and returns once the user is done.
type EditorFunc func(ctx context.Context, path string) error

// ExternalEditor runs command with the file path appended, attached to the
// terminal. command may carry arguments, e.g. "code --wait".
func ExternalEditor(command string) EditorFunc {
	return func(ctx context.Context, path string) error {
		fields := strings.Fields(command)
		if len(fields) == 0 {
			return fmt.Errorf("no editor configured: set $VISUAL or $EDITOR")
		}
		cmd := exec.CommandContext(ctx, fields[0], append(fields[1:], path)...)
		cmd.Stdin = os.Stdin
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("running %s: %w", fields[0], err)
		}
		return nil
	}
}

// EditorCommand picks the user's editor from the environment.
func EditorCommand() string {
	for _, k := range []string{"VISUAL", "EDITOR"} {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return "vi"
}

// EditOperation drives one editing session from a terminal: the working
// copy round-trips through an external editor and every decision the
// session needs is put to the Prompter.
type EditOperation struct {
	app        *EditorApp
	documentID string
	ruleSetID  string
	editor     EditorFunc
	prompt     Prompter
	out        io.Writer
}

// NewEditOperation prepares an edit of documentID. Nothing happens until Run.
func (a *EditorApp) NewEditOperation(documentID, ruleSetID string, editor EditorFunc, prompt Prompter, out io.Writer) *EditOperation {
	return &EditOperation{
		app:        a,
		documentID: documentID,
		ruleSetID:  ruleSetID,
		editor:     editor,
		prompt:     prompt,
		out:        out,
	}
}

// Run starts the session and loops until the user publishes and stops,
// quits, or declines to continue on a read-only or conflicting document.
// Unpublished edits are left in the draft store on return.
func (op *EditOperation) Run(ctx context.Context) (err error) {
	s := op.app.OpenSession(op.documentID, op.ruleSetID, &noticePrinter{out: op.out})
	defer func() {
		if cerr := s.Close(context.WithoutCancel(ctx)); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if err := s.Start(ctx); err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		st := s.State()
		switch st.Phase {
		case cfgedit.PhaseRecovery:
			if err := op.recover(ctx, s, st.Draft); err != nil {
				return err
			}
		case cfgedit.PhaseReadOnly:
			ok, err := op.prompt.Confirm(fmt.Sprintf("%s is being edited by %s since %s. Break their lock?",
				op.documentID, st.Lock.Holder, st.Lock.HeldSince.Local().Format(time.DateTime)))
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%s is locked by %s: %w", op.documentID, st.Lock.Holder, ErrAborted)
			}
			if err := s.ForceBreakLock(ctx); err != nil {
				return err
			}
		case cfgedit.PhaseConflict:
			ok, err := op.prompt.Confirm("Reload the latest revision? Your edits will be offered as a draft.")
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%s changed on the server, edits kept as a draft: %w", op.documentID, ErrAborted)
			}
			if err := s.RequestReload(ctx); err != nil {
				return err
			}
		case cfgedit.PhaseEditable:
			done, err := op.editRound(ctx, s)
			if err != nil || done {
				return err
			}
		default:
			return fmt.Errorf("unexpected session phase %s", st.Phase)
		}
	}
}

func (op *EditOperation) recover(ctx context.Context, s *cfgedit.Session, offer *cfgedit.DraftOffer) error {
	if offer == nil {
		return s.DiscardDraft(ctx)
	}
	fmt.Fprintf(op.out, "Found an unsaved draft of %s from %s.\n", op.documentID, offer.Draft.LastEditedAt.Local().Format(time.DateTime))
	if offer.Stale {
		fmt.Fprintln(op.out, "The document was published again since. Resuming replaces that revision with your draft.")
	}
	ok, err := op.prompt.Confirm("Resume the draft?")
	if err != nil {
		return err
	}
	if ok {
		return s.ResumeDraft(ctx)
	}
	return s.DiscardDraft(ctx)
}

// editRound opens the editor once and then asks what to do next. done is
// true when the operation should end.
func (op *EditOperation) editRound(ctx context.Context, s *cfgedit.Session) (done bool, err error) {
	text, err := op.runEditor(ctx, s.Text())
	if err != nil {
		return false, err
	}
	if err := s.Edit(text); err != nil {
		return false, err
	}

	for {
		if !s.State().Dirty {
			fmt.Fprintln(op.out, "No unpublished changes.")
		}
		choice, err := op.prompt.Choose("What next?", []string{"publish", "edit", "quit"})
		if err != nil {
			return false, err
		}
		switch choice {
		case 0:
			published, err := op.publish(ctx, s)
			if err != nil || published {
				return published, err
			}
			if s.State().Phase != cfgedit.PhaseEditable {
				return false, nil
			}
		case 1:
			return false, nil
		default:
			return true, nil
		}
	}
}

func (op *EditOperation) runEditor(ctx context.Context, text string) (string, error) {
	f, err := os.CreateTemp("", "cfgedit-*"+filepath.Ext(op.documentID))
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)

	if _, err := f.WriteString(text); err != nil {
		f.Close()
		return "", fmt.Errorf("writing temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing temp file: %w", err)
	}

	if err := op.editor(ctx, path); err != nil {
		return "", err
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading edited file: %w", err)
	}
	return string(b), nil
}

// publish walks the review steps. It reports false with a nil error when
// the user backed out or the session refused the publish; the session
// phase says which.
func (op *EditOperation) publish(ctx context.Context, s *cfgedit.Session) (bool, error) {
	review, err := s.RequestPublish(ctx)
	if err != nil {
		if cfgedit.KindOf(err) == cfgedit.KindValidationFailure {
			fmt.Fprintln(op.out, "The document does not parse:")
			writeIssues(op.out, s.Issues())
			return false, nil
		}
		return false, err
	}
	if review.Empty() {
		return false, nil
	}

	if review.PendingIssues > 0 {
		writeIssues(op.out, review.Report)
		ok, err := op.prompt.Confirm(fmt.Sprintf("Publish with %d unresolved issue(s)?", review.PendingIssues))
		if err != nil {
			return false, err
		}
		if !ok {
			return false, s.CancelPublish()
		}
		if err := s.AcknowledgeIssues(); err != nil {
			return false, err
		}
	}

	fmt.Fprintf(op.out, "%s: %d line(s) added, %d removed\n", op.documentID, review.Summary.Added, review.Summary.Removed)
	if err := diff.Write(op.out, review.Changes, diffContext); err != nil {
		return false, err
	}
	ok, err := op.prompt.Confirm("Publish these changes?")
	if err != nil {
		return false, err
	}
	if !ok {
		return false, s.CancelPublish()
	}

	if _, err := s.ConfirmPublish(ctx); err != nil {
		switch cfgedit.KindOf(err) {
		case cfgedit.KindPublishConflict, cfgedit.KindLockDenied, cfgedit.KindPublishTransportFailure:
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func writeIssues(w io.Writer, report cfgedit.IssueReport) {
	for _, issue := range report.Issues {
		fmt.Fprintf(w, "  %s\n", issue)
	}
}

// noticePrinter renders session notices. Notices can arrive from timer
// goroutines, so writes are serialized.
type noticePrinter struct {
	cfgedit.NopObserver
	mu  sync.Mutex
	out io.Writer
}

func (p *noticePrinter) Notice(n cfgedit.Notice) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n.Err != nil {
		fmt.Fprintf(p.out, "%s: %s: %v\n", n.Level, n.Message, n.Err)
		return
	}
	fmt.Fprintf(p.out, "%s: %s\n", n.Level, n.Message)
}
