package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cfgedit/internal/config"
	"cfgedit/internal/document"
)

// scriptedPrompter answers from fixed lists and records the questions.
type scriptedPrompter struct {
	confirms  []bool
	choices   []int
	questions []string
}

func (p *scriptedPrompter) Confirm(question string) (bool, error) {
	p.questions = append(p.questions, question)
	if len(p.confirms) == 0 {
		return false, fmt.Errorf("unexpected confirm: %q", question)
	}
	answer := p.confirms[0]
	p.confirms = p.confirms[1:]
	return answer, nil
}

func (p *scriptedPrompter) Choose(question string, options []string) (int, error) {
	p.questions = append(p.questions, question)
	if len(p.choices) == 0 {
		return 0, fmt.Errorf("unexpected choice: %q", question)
	}
	answer := p.choices[0]
	p.choices = p.choices[1:]
	return answer, nil
}

// scriptedEditor replaces the file content with the next text and records
// what it was handed.
type scriptedEditor struct {
	texts []string
	seen  []string
	hook  func()
}

func (e *scriptedEditor) edit(ctx context.Context, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	e.seen = append(e.seen, string(b))
	if len(e.texts) == 0 {
		return errors.New("editor opened too often")
	}
	next := e.texts[0]
	e.texts = e.texts[1:]
	if e.hook != nil {
		e.hook()
	}
	return os.WriteFile(path, []byte(next), 0o600)
}

func runEdit(t *testing.T, a *EditorApp, id, ruleSet string, ed *scriptedEditor, p *scriptedPrompter) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := a.NewEditOperation(id, ruleSet, ed.edit, p, &out).Run(context.Background())
	return out.String(), err
}

func loadContent(t *testing.T, a *EditorApp, id string) string {
	t.Helper()
	doc, err := a.Documents().Load(context.Background(), id)
	require.NoError(t, err)
	return doc.Content
}

func TestEditOperation_Publish(t *testing.T) {
	a := newTestApp(t, newTestConfig(t))
	seed(t, a, "svc.yaml", "name: one\n")

	ed := &scriptedEditor{texts: []string{"name: two\n"}}
	p := &scriptedPrompter{choices: []int{0}, confirms: []bool{true}}
	out, err := runEdit(t, a, "svc.yaml", "", ed, p)
	require.NoError(t, err)

	assert.Equal(t, []string{"name: one\n"}, ed.seen)
	assert.Equal(t, "name: two\n", loadContent(t, a, "svc.yaml"))
	assert.Contains(t, out, "-name: one")
	assert.Contains(t, out, "+name: two")
	assert.Contains(t, out, "info: published")

	drafts, err := a.ListDrafts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, drafts)

	l, err := a.LockStatus(context.Background(), "svc.yaml")
	require.NoError(t, err)
	assert.Nil(t, l)
}

func TestEditOperation_QuitKeepsDraftForRecovery(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, newTestConfig(t))
	seed(t, a, "svc.yaml", "name: one\n")

	_, err := runEdit(t, a, "svc.yaml", "", &scriptedEditor{texts: []string{"name: draft\n"}}, &scriptedPrompter{choices: []int{2}})
	require.NoError(t, err)
	assert.Equal(t, "name: one\n", loadContent(t, a, "svc.yaml"))

	drafts, err := a.ListDrafts(ctx)
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.Equal(t, "name: draft\n", drafts[0].Text)

	ed := &scriptedEditor{texts: []string{"name: draft\n"}}
	p := &scriptedPrompter{confirms: []bool{true}, choices: []int{2}}
	out, err := runEdit(t, a, "svc.yaml", "", ed, p)
	require.NoError(t, err)
	assert.Contains(t, out, "Found an unsaved draft")
	assert.NotContains(t, out, "published again")
	assert.Equal(t, []string{"name: draft\n"}, ed.seen)
	assert.Equal(t, "Resume the draft?", p.questions[0])
}

func TestEditOperation_DiscardDraft(t *testing.T) {
	a := newTestApp(t, newTestConfig(t))
	seed(t, a, "svc.yaml", "name: one\n")

	_, err := runEdit(t, a, "svc.yaml", "", &scriptedEditor{texts: []string{"name: draft\n"}}, &scriptedPrompter{choices: []int{2}})
	require.NoError(t, err)

	ed := &scriptedEditor{texts: []string{"name: one\n"}}
	_, err = runEdit(t, a, "svc.yaml", "", ed, &scriptedPrompter{confirms: []bool{false}, choices: []int{2}})
	require.NoError(t, err)
	assert.Equal(t, []string{"name: one\n"}, ed.seen)

	drafts, err := a.ListDrafts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, drafts)
}

func TestEditOperation_StaleDraftWarning(t *testing.T) {
	a := newTestApp(t, newTestConfig(t))
	seed(t, a, "svc.yaml", "name: one\n")

	_, err := runEdit(t, a, "svc.yaml", "", &scriptedEditor{texts: []string{"name: draft\n"}}, &scriptedPrompter{choices: []int{2}})
	require.NoError(t, err)
	seed(t, a, "svc.yaml", "name: server\n")

	out, err := runEdit(t, a, "svc.yaml", "", &scriptedEditor{texts: []string{"name: draft\n"}}, &scriptedPrompter{confirms: []bool{true}, choices: []int{2}})
	require.NoError(t, err)
	assert.Contains(t, out, "published again")
}

func TestEditOperation_SyntaxErrorBlocksPublish(t *testing.T) {
	a := newTestApp(t, newTestConfig(t))
	seed(t, a, "svc.yaml", "name: one\n")

	out, err := runEdit(t, a, "svc.yaml", "", &scriptedEditor{texts: []string{"name: [\n"}}, &scriptedPrompter{choices: []int{0, 2}})
	require.NoError(t, err)
	assert.Contains(t, out, "does not parse")
	assert.Equal(t, "name: one\n", loadContent(t, a, "svc.yaml"))
}

func TestEditOperation_SoftIssues(t *testing.T) {
	t.Run("declined", func(t *testing.T) {
		a := newTestApp(t, newTestConfig(t))
		seed(t, a, "svc.yaml", "name: one\n")

		p := &scriptedPrompter{choices: []int{0, 2}, confirms: []bool{false}}
		out, err := runEdit(t, a, "svc.yaml", "app", &scriptedEditor{texts: []string{"port: 80\n"}}, p)
		require.NoError(t, err)
		assert.Contains(t, out, "missing properties")
		assert.Equal(t, "Publish with 1 unresolved issue(s)?", p.questions[1])
		assert.Equal(t, "name: one\n", loadContent(t, a, "svc.yaml"))
	})

	t.Run("acknowledged", func(t *testing.T) {
		a := newTestApp(t, newTestConfig(t))
		seed(t, a, "svc.yaml", "name: one\n")

		p := &scriptedPrompter{choices: []int{0}, confirms: []bool{true, true}}
		_, err := runEdit(t, a, "svc.yaml", "app", &scriptedEditor{texts: []string{"port: 80\n"}}, p)
		require.NoError(t, err)
		assert.Equal(t, "port: 80\n", loadContent(t, a, "svc.yaml"))
	})
}

func TestEditOperation_EditAgain(t *testing.T) {
	a := newTestApp(t, newTestConfig(t))
	seed(t, a, "svc.yaml", "name: one\n")

	ed := &scriptedEditor{texts: []string{"name: two\n", "name: three\n"}}
	p := &scriptedPrompter{choices: []int{1, 0}, confirms: []bool{true}}
	_, err := runEdit(t, a, "svc.yaml", "", ed, p)
	require.NoError(t, err)
	assert.Equal(t, []string{"name: one\n", "name: two\n"}, ed.seen)
	assert.Equal(t, "name: three\n", loadContent(t, a, "svc.yaml"))
}

func TestEditOperation_NoChanges(t *testing.T) {
	a := newTestApp(t, newTestConfig(t))
	stamp := seed(t, a, "svc.yaml", "name: one\n")

	out, err := runEdit(t, a, "svc.yaml", "", &scriptedEditor{texts: []string{"name: one\n"}}, &scriptedPrompter{choices: []int{0, 2}})
	require.NoError(t, err)
	assert.Contains(t, out, "No unpublished changes.")
	assert.Contains(t, out, "no changes to publish")

	doc, err := a.Documents().Load(context.Background(), "svc.yaml")
	require.NoError(t, err)
	assert.Equal(t, stamp, doc.VersionStamp)
}

func TestEditOperation_ReadOnly(t *testing.T) {
	ctx := context.Background()

	t.Run("declined", func(t *testing.T) {
		a := newTestApp(t, newTestConfig(t))
		seed(t, a, "svc.yaml", "name: one\n")
		_, err := a.locks.Acquire(ctx, "svc.yaml", "bob")
		require.NoError(t, err)

		p := &scriptedPrompter{confirms: []bool{false}}
		out, err := runEdit(t, a, "svc.yaml", "", &scriptedEditor{}, p)
		assert.ErrorIs(t, err, ErrAborted)
		assert.Contains(t, out, "bob is editing")
		assert.True(t, strings.HasPrefix(p.questions[0], "svc.yaml is being edited by bob"))
	})

	t.Run("break without privilege", func(t *testing.T) {
		a := newTestApp(t, newTestConfig(t))
		seed(t, a, "svc.yaml", "name: one\n")
		_, err := a.locks.Acquire(ctx, "svc.yaml", "bob")
		require.NoError(t, err)

		_, err = runEdit(t, a, "svc.yaml", "", &scriptedEditor{}, &scriptedPrompter{confirms: []bool{true}})
		assert.Error(t, err)

		l, err := a.LockStatus(ctx, "svc.yaml")
		require.NoError(t, err)
		assert.Equal(t, "bob", l.Holder)
	})

	t.Run("break with privilege", func(t *testing.T) {
		cfg := newTestConfig(t)
		cfg.Locks.PrivilegedIdentities = []string{"alice"}
		a := newTestApp(t, cfg)
		seed(t, a, "svc.yaml", "name: one\n")
		_, err := a.locks.Acquire(ctx, "svc.yaml", "bob")
		require.NoError(t, err)

		p := &scriptedPrompter{confirms: []bool{true, true}, choices: []int{0}}
		_, err = runEdit(t, a, "svc.yaml", "", &scriptedEditor{texts: []string{"name: two\n"}}, p)
		require.NoError(t, err)
		assert.Equal(t, "name: two\n", loadContent(t, a, "svc.yaml"))
	})
}

func TestEditOperation_Conflict(t *testing.T) {
	a := newTestApp(t, newTestConfig(t))
	seed(t, a, "svc.yaml", "name: one\n")
	mem := a.Documents().(*document.MemoryService)

	ed := &scriptedEditor{
		texts: []string{"name: mine\n"},
		hook:  func() { mem.Put("svc.yaml", "name: theirs\n") },
	}

	t.Run("abort keeps draft", func(t *testing.T) {
		p := &scriptedPrompter{choices: []int{0}, confirms: []bool{true, false}}
		out, err := runEdit(t, a, "svc.yaml", "", ed, p)
		assert.ErrorIs(t, err, ErrAborted)
		assert.Contains(t, out, "changed on the server")
		assert.Equal(t, "name: theirs\n", loadContent(t, a, "svc.yaml"))

		drafts, err := a.ListDrafts(context.Background())
		require.NoError(t, err)
		require.Len(t, drafts, 1)
		assert.Equal(t, "name: mine\n", drafts[0].Text)
	})

	t.Run("reload and resume", func(t *testing.T) {
		ed := &scriptedEditor{texts: []string{"name: merged\n"}}
		p := &scriptedPrompter{confirms: []bool{true, true}, choices: []int{0}}
		_, err := runEdit(t, a, "svc.yaml", "", ed, p)
		require.NoError(t, err)
		assert.Equal(t, []string{"name: mine\n"}, ed.seen)
		assert.Equal(t, "name: merged\n", loadContent(t, a, "svc.yaml"))
	})
}

func TestEditOperation_ReloadAfterConflict(t *testing.T) {
	a := newTestApp(t, newTestConfig(t))
	seed(t, a, "svc.yaml", "name: one\n")
	mem := a.Documents().(*document.MemoryService)

	ed := &scriptedEditor{texts: []string{"name: mine\n", "name: final\n"}}
	ed.hook = func() {
		if len(ed.seen) == 1 {
			mem.Put("svc.yaml", "name: theirs\n")
		}
	}
	// publish, confirm diff, conflict: reload, resume draft, then publish again
	p := &scriptedPrompter{choices: []int{0, 0}, confirms: []bool{true, true, true, true}}
	out, err := runEdit(t, a, "svc.yaml", "", ed, p)
	require.NoError(t, err)
	assert.Contains(t, out, "published again")
	assert.Equal(t, []string{"name: one\n", "name: mine\n"}, ed.seen)
	assert.Equal(t, "name: final\n", loadContent(t, a, "svc.yaml"))
}

func TestEditOperation_LoadFailure(t *testing.T) {
	a := newTestApp(t, newTestConfig(t))
	out, err := runEdit(t, a, "missing.yaml", "", &scriptedEditor{}, &scriptedPrompter{})
	assert.Error(t, err)
	assert.Contains(t, out, "could not load document")
}

func TestEditOperation_EditorFailure(t *testing.T) {
	a := newTestApp(t, newTestConfig(t))
	seed(t, a, "svc.yaml", "name: one\n")
	_, err := runEdit(t, a, "svc.yaml", "", &scriptedEditor{}, &scriptedPrompter{})
	assert.ErrorContains(t, err, "editor opened too often")
}

func TestExternalEditor(t *testing.T) {
	assert.Error(t, ExternalEditor("")(context.Background(), "x"))

	path := t.TempDir() + "/doc.yaml"
	require.NoError(t, os.WriteFile(path, []byte("a\n"), 0o600))
	require.NoError(t, ExternalEditor("true")(context.Background(), path))
}

func TestEditorCommand(t *testing.T) {
	t.Setenv("VISUAL", "")
	t.Setenv("EDITOR", "")
	assert.Equal(t, "vi", EditorCommand())

	t.Setenv("EDITOR", "nano")
	assert.Equal(t, "nano", EditorCommand())

	t.Setenv("VISUAL", "code --wait")
	assert.Equal(t, "code --wait", EditorCommand())
}

func TestNewEditOperation_UsesDefaultRuleSet(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Validation = config.ValidationConfig{RulesDir: cfg.Validation.RulesDir, DefaultRuleSet: "app"}
	a := newTestApp(t, cfg)
	seed(t, a, "svc.yaml", "name: one\n")

	p := &scriptedPrompter{choices: []int{0, 2}, confirms: []bool{false}}
	out, err := runEdit(t, a, "svc.yaml", "", &scriptedEditor{texts: []string{"port: 80\n"}}, p)
	require.NoError(t, err)
	assert.Contains(t, out, "missing properties")
}
