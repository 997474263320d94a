package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/confquest/confquest/internal/app/timewindow"
	"github.com/confquest/confquest/internal/daemon"
	"github.com/confquest/confquest/internal/domain"
	"github.com/confquest/confquest/pkg/client"
)

// apiClient returns a client carrying the configured credentials.
func apiClient() *client.Client {
	c := client.New(cfg.Client.ServerURL)
	c.Retry = cfg.RetryPolicy()
	c.InitData = cfg.Client.InitData
	c.AdminToken = cfg.Client.AdminToken
	return c
}

// openLocal opens the participant's local runtime.
func openLocal() (*daemon.Local, string, error) {
	user, err := currentUser()
	if err != nil {
		return nil, "", err
	}
	l, err := daemon.OpenLocal(cfg)
	if err != nil {
		return nil, "", err
	}
	return l, user, nil
}

// printRejection prints an expected failure and reports whether err was one.
func printRejection(w io.Writer, err error) bool {
	if !domain.IsExpected(err) {
		return false
	}
	if r, ok := domain.RejectionOf(err); ok {
		fmt.Fprintf(w, "Not now: %s", r.Reason)
		if !r.RetryAt.IsZero() {
			fmt.Fprintf(w, " (retry in %s)", timewindow.FormatRemaining(time.Until(r.RetryAt)))
		}
		fmt.Fprintln(w)
		return true
	}
	fmt.Fprintf(w, "Not now: %v\n", err)
	return true
}

// parseMeta parses repeated key=value flags into task metadata.
func parseMeta(pairs []string, firstTime bool, taskID string) (domain.Metadata, error) {
	meta := domain.Metadata{FirstTime: firstTime, TaskID: taskID}
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return meta, fmt.Errorf("%w: metadata %q is not key=value", domain.ErrInvalidInput, p)
		}
		if meta.Extra == nil {
			meta.Extra = make(map[string]string)
		}
		meta.Extra[k] = v
	}
	return meta, nil
}
