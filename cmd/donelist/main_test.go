package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/donelist/internal/proxy"
)

type staticCompleter struct {
	text string
}

func (c staticCompleter) Model() string { return "static" }

func (c staticCompleter) Complete(context.Context, proxy.CompletionRequest) (string, error) {
	return c.text, nil
}

func (c staticCompleter) Stream(_ context.Context, _ proxy.CompletionRequest, onDelta func(string) error) error {
	for _, part := range []string{c.text[:len(c.text)/2], c.text[len(c.text)/2:]} {
		if err := onDelta(part); err != nil {
			return err
		}
	}
	return nil
}

// run executes one CLI invocation against dataDir.
func run(t *testing.T, dataDir string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	a := &app{v: viper.New()}
	defer a.close()

	cmd := newRootCmd(a)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--data-dir", dataDir}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

var idPattern = regexp.MustCompile(`[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)

func TestCLI_AddListToggle(t *testing.T) {
	dir := t.TempDir()

	out, err := run(t, dir, "add", "Water plants", "--everyday")
	require.NoError(t, err)
	assert.Contains(t, out, "Water plants")
	assert.Contains(t, out, "everyday")
	id := idPattern.FindString(out)
	require.NotEmpty(t, id)

	out, err = run(t, dir, "list")
	require.NoError(t, err)
	assert.Contains(t, out, id)

	out, err = run(t, dir, "search", "plants")
	require.NoError(t, err)
	assert.Contains(t, out, "Water **plants**")

	_, err = run(t, dir, "toggle", id)
	require.NoError(t, err)

	out, err = run(t, dir, "list", "--filter", "active")
	require.NoError(t, err)
	assert.Contains(t, out, "No tasks")

	out, err = run(t, dir, "clear-completed")
	require.NoError(t, err)
	assert.Contains(t, out, "removed 1 completed task(s)")
}

func TestCLI_RejectsInvalidConfig(t *testing.T) {
	_, err := run(t, t.TempDir(), "--storage", "postgres", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.backend")
}

func TestCLI_AnalyzeThroughProxy(t *testing.T) {
	gin.SetMode(gin.TestMode)
	completer := staticCompleter{text: `{"steps":[{"title":"Book flights","why":"prices rise"},{"title":"Pack"}]}`}
	ts := httptest.NewServer(proxy.NewServer(completer, nil, proxy.DefaultOptions(), nil).Handler())
	defer ts.Close()

	dir := t.TempDir()
	out, err := run(t, dir, "add", "Plan a trip")
	require.NoError(t, err)
	id := idPattern.FindString(out)

	out, err = run(t, dir, "--proxy", ts.URL, "analyze", id)
	require.NoError(t, err)
	assert.Contains(t, out, "Sub-tasks created")
	assert.Contains(t, out, "prices rise")
	assert.Contains(t, out, "Pack")

	out, err = run(t, dir, "show", id)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, "sub-"+id))

	out, err = run(t, dir, "--proxy", ts.URL, "regenerate", id)
	require.NoError(t, err)
	assert.Contains(t, out, "Better version generated")

	out, err = run(t, dir, "show", id)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, "sub-"+id))
}

func TestCLI_RegenerateRequiresAnalysis(t *testing.T) {
	dir := t.TempDir()
	out, err := run(t, dir, "add", "Plan a trip")
	require.NoError(t, err)

	_, err = run(t, dir, "regenerate", idPattern.FindString(out))
	assert.ErrorIs(t, err, errNotAnalyzed)
}

func TestCLI_AnalyzeFailureExitsNonZero(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ts := httptest.NewServer(proxy.NewServer(nil, nil, proxy.DefaultOptions(), nil).Handler())
	defer ts.Close()

	dir := t.TempDir()
	out, err := run(t, dir, "add", "Plan a trip")
	require.NoError(t, err)

	out, err = run(t, dir, "--proxy", ts.URL, "analyze", idPattern.FindString(out))
	var failure *analysisFailure
	require.ErrorAs(t, err, &failure)
	assert.Contains(t, out, "Server missing API key")
}
