package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/conneroisu/glimpse/internal/errors"
	"github.com/conneroisu/glimpse/internal/ingress"
	"github.com/conneroisu/glimpse/internal/version"
)

var pushCmd = &cobra.Command{
	Use:   "push <file>",
	Short: "Send a document snapshot to a running bridge",
	Long: `Post a file's content to the update ingress of a running glimpse, the
same request an editor plugin makes on every change.

Examples:
  glimpse push notes.md              # Cursor on line 0
  glimpse push notes.md --line 12    # Cursor on line 12
  glimpse push - --name draft.md     # Read content from stdin`,
	Args: cobra.ExactArgs(1),
	RunE: runPush,
}

func init() {
	rootCmd.AddCommand(pushCmd)

	pushCmd.Flags().Uint32("line", 0, "Cursor line reported to the preview")
	pushCmd.Flags().String("name", "", "File name reported to the preview (default is the file's base name)")
	pushCmd.Flags().Int("ingress-port", 0, "Ingress port of the running bridge (default 42069)")
	pushCmd.Flags().Duration("timeout", 5*time.Second, "Request timeout")

	bindFlag("ingress.port", pushCmd.Flags(), "ingress-port")
}

func runPush(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	path := args[0]
	var content []byte
	if path == "-" {
		content, err = io.ReadAll(cmd.InOrStdin())
	} else {
		content, err = os.ReadFile(path)
	}
	if err != nil {
		return errors.WrapIO(err, errors.ErrCodeInput, "reading document")
	}

	line, _ := cmd.Flags().GetUint32("line")
	name, _ := cmd.Flags().GetString("name")
	if name == "" && path != "-" {
		name = filepath.Base(path)
	}
	timeout, _ := cmd.Flags().GetDuration("timeout")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	url := "http://" + cfg.IngressAddr() + "/update"
	if err := postUpdate(ctx, url, ingress.UpdatePayload{
		Content:    string(content),
		CursorLine: line,
		FileName:   name,
	}); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Pushed %s (%d bytes, line %d) to %s\n", name, len(content), line, cfg.IngressAddr())
	return nil
}

func postUpdate(ctx context.Context, url string, payload ingress.UpdatePayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return postJSON(ctx, url, body, http.StatusOK)
}

// postJSON sends body and fails unless the response has status want.
func postJSON(ctx context.Context, url string, body []byte, want int) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return errors.NewNetworkError(errors.ErrCodeRequest, "glimpse is not reachable; is `glimpse serve` running?", err).
			WithContext("url", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s answered %s: %s", url, resp.Status, bytes.TrimSpace(msg))
	}
	return nil
}
