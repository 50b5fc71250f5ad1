package commands

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	t.Chdir(t.TempDir())
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSendCommandGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/list.json", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "demo", r.Header.Get("X-Client"))
		_, _ = io.WriteString(w, `{"items":[]}`)
	}))
	defer srv.Close()

	out, err := execute(t, NewSendCommand(), "--base", srv.URL, "-p", "page=2", "-H", "X-Client: demo", "list.json")
	require.NoError(t, err)
	assert.Contains(t, out, "url:    "+srv.URL+"/list.json")
	assert.Contains(t, out, "pools:  success, after-request")
	assert.Contains(t, out, "status: 200")
	assert.Contains(t, out, `{"items":[]}`)
}

func TestSendCommandPostMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		file, header, err := r.FormFile("upload")
		if !assert.NoError(t, err) {
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)

		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, r.FormValue("tags")+"|"+header.Filename+"|"+string(data))
	}))
	defer srv.Close()

	upload := filepath.Join(t.TempDir(), "report.csv")
	require.NoError(t, os.WriteFile(upload, []byte("a,b"), 0o600))

	out, err := execute(t, NewSendCommand(), "-X", "post", "-p", `tags=["a","b"]`, "-f", "upload="+upload, srv.URL+"/items")
	require.NoError(t, err)
	assert.Contains(t, out, "status: 201")
	assert.Contains(t, out, "%5B%22a%22%2C%22b%22%5D|report.csv|a,b")
}

func TestSendCommandClientError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	out, err := execute(t, NewSendCommand(), "--report", "success,clienterror,afterajax", srv.URL+"/missing")
	require.NoError(t, err)
	assert.Contains(t, out, "pools:  client-error, after-request")
	assert.Contains(t, out, "status: 404")
}

func TestSendCommandNoResponse(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	out, err := execute(t, NewSendCommand(), "--retry-times", "0", url+"/x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no response")
	assert.Contains(t, out, "pools:  disconnected, after-request")
	assert.Contains(t, out, "status: 0")
}

func TestSendCommandRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"header", []string{"-H", "no-colon", "http://127.0.0.1:1/x"}, "expected 'Name: value'"},
		{"param", []string{"-p", "novalue", "http://127.0.0.1:1/x"}, "expected name=value"},
		{"file", []string{"-X", "POST", "-f", "up=/does/not/exist", "http://127.0.0.1:1/x"}, "read file"},
		{"pool", []string{"--report", "redirect", "http://127.0.0.1:1/x"}, "unknown callback pool"},
		{"method", []string{"-X", "PATCH", "http://127.0.0.1:1/x"}, "dispatcher.method"},
		{"retry", []string{"--retry-wait", "0", "http://127.0.0.1:1/x"}, "dispatcher.retry.wait"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, NewSendCommand(), tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSendCommandReadsConfigFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "file-token", r.Header.Get("X-CSRF-TOKEN"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "dispatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
dispatcher:
  method: DELETE
  base: `+srv.URL+`
  csrf:
    token: file-token
`), 0o600))

	out, err := execute(t, NewSendCommand(), "--config", path, "items/1")
	require.NoError(t, err)
	assert.Contains(t, out, "status: 204")
}

func TestPoolsCommand(t *testing.T) {
	out, err := execute(t, NewPoolsCommand())
	require.NoError(t, err)
	assert.Contains(t, out, "before-send")
	assert.Contains(t, out, "error          a callback returned an error or panicked")
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, NewVersionCommand("v1.2.3"))
	require.NoError(t, err)
	assert.Equal(t, "reqctl version v1.2.3\nBuilt with "+runtime.Version()+" "+runtime.GOOS+"/"+runtime.GOARCH+"\n", out)
}
