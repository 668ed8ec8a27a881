package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"testing"
	"time"

	u "github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/and161185/alertme/internal/agent"
	"github.com/and161185/alertme/internal/convert"
	"github.com/and161185/alertme/internal/model"
)

// withTmpDirs points config, state and cache at a temp dir.
func withTmpDirs(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_STATE_HOME", filepath.Join(dir, "state"))
	t.Setenv("ALERTME_CACHE_PATH", filepath.Join(dir, "cache.db"))
	return filepath.Join(dir, "state", "alertme")
}

func exec(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code := realMain(context.Background(), args, strings.NewReader(""), &out, &errOut)
	return code, out.String(), errOut.String()
}

func signed(t *testing.T, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("k"))
	require.NoError(t, err)
	return tok
}

func TestVersion(t *testing.T) {
	withTmpDirs(t)
	code, out, _ := exec(t, "version")
	require.Equal(t, 0, code)
	require.Contains(t, out, "alertme-agent dev")
}

func TestUsage(t *testing.T) {
	withTmpDirs(t)
	code, _, errOut := exec(t)
	require.Equal(t, 2, code)
	require.Contains(t, errOut, "Commands:")

	code, _, _ = exec(t, "frobnicate")
	require.Equal(t, 2, code)
}

func TestLoginLogout(t *testing.T) {
	state := withTmpDirs(t)
	id := u.Must(u.NewV4())

	code, _, errOut := exec(t, "login", "-user", "nope", "-token", "x")
	require.Equal(t, 1, code)
	require.Contains(t, errOut, "-user")

	code, _, errOut = exec(t, "login", "-user", id.String(), "-token", signed(t, time.Now().Add(-time.Hour)))
	require.Equal(t, 1, code)
	require.Contains(t, errOut, "non-expired")

	code, out, _ := exec(t, "login", "-user", id.String(), "-token", signed(t, time.Now().Add(time.Hour)))
	require.Equal(t, 0, code)
	require.Equal(t, "ok\n", out)

	creds, err := agent.LoadCredentials(state)
	require.NoError(t, err)
	require.Equal(t, id, creds.UserID)

	code, _, _ = exec(t, "logout")
	require.Equal(t, 0, code)
	_, err = agent.LoadCredentials(state)
	require.ErrorIs(t, err, agent.ErrNotLoggedIn)
}

func TestList_RequiresLogin(t *testing.T) {
	withTmpDirs(t)
	code, _, errOut := exec(t, "list")
	require.Equal(t, 1, code)
	require.Contains(t, errOut, "error:")
}

func TestList(t *testing.T) {
	withTmpDirs(t)
	owner := u.Must(u.NewV4())
	target := u.Must(u.NewV4())
	tok := signed(t, time.Now().Add(time.Hour))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/get-combinations", r.URL.Path)
		require.Equal(t, "Bearer "+tok, r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(convert.CombinationsResponse{Combinations: []convert.Combination{{
			ID: "c1", Name: "help", Target: target.String(),
			Sequence: []string{"volumeUp", "volumeUp", "volumeDown"},
		}}})
	}))
	defer srv.Close()
	t.Setenv("ALERTME_SERVER_URL", srv.URL)

	code, _, _ := exec(t, "login", "-user", owner.String(), "-token", tok)
	require.Equal(t, 0, code)

	code, out, errOut := exec(t, "list")
	require.Equal(t, 0, code, errOut)
	var got []convert.Combination
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got, 1)
	require.Equal(t, "c1", got[0].ID)
	require.Equal(t, target.String(), got[0].Target)
}

func TestParseSequence(t *testing.T) {
	want := model.Sequence{model.SymbolUp, model.SymbolUp, model.SymbolDown}

	for _, in := range []string{"UUD", "up,up,down", "up up down", "volumeUp, volumeUp, volumeDown"} {
		got, err := parseSequence(in)
		require.NoError(t, err, in)
		require.True(t, want.Equal(got), in)
	}

	_, err := parseSequence("UX")
	require.Error(t, err)
	_, err = parseSequence("U")
	require.Error(t, err, "too short")
}

func TestEditorNotifiesRunningAgent(t *testing.T) {
	state := withTmpDirs(t)
	owner := u.Must(u.NewV4())
	target := u.Must(u.NewV4())
	tok := signed(t, time.Now().Add(time.Hour))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/add-combination":
			var in convert.WriteCombinationRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
			require.Equal(t, []string{"volumeUp", "volumeUp", "volumeDown"}, in.Sequence)
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(convert.CombinationResponse{Combination: in.Combination()})
		case "/delete-combination":
			_ = json.NewEncoder(w).Encode(convert.MessageResponse{Message: "combination deleted"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	t.Setenv("ALERTME_SERVER_URL", srv.URL)

	code, _, _ := exec(t, "login", "-user", owner.String(), "-token", tok)
	require.Equal(t, 0, code)

	// This test process stands in for the running agent.
	changed := make(chan os.Signal, 2)
	signal.Notify(changed, agent.ChangedSignal)
	defer signal.Stop(changed)
	remove, err := agent.WritePID(state)
	require.NoError(t, err)
	defer remove()

	code, out, errOut := exec(t, "add", "-target", target.String(), "-name", "help", "-seq", "UUD")
	require.Equal(t, 0, code, errOut)
	require.Contains(t, out, `"name": "help"`)
	require.Contains(t, errOut, "running agent notified")
	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatalf("add did not notify the running agent")
	}

	code, _, errOut = exec(t, "rm", "-id", "c1")
	require.Equal(t, 0, code, errOut)
	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatalf("rm did not notify the running agent")
	}
}
