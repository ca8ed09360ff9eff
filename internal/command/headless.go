package command

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/john/combinedchat/internal/backend"
	"github.com/john/combinedchat/internal/client"
	"github.com/john/combinedchat/internal/compose"
	"github.com/john/combinedchat/internal/message"
	"github.com/john/combinedchat/internal/presence"
	"github.com/john/combinedchat/internal/session"
	"github.com/john/combinedchat/internal/tui"
)

// NewHeadlessCmd creates the headless command.
func NewHeadlessCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "headless",
		Short: "Print the merged feed as lines; read messages and /commands from stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")
			readInput, _ := cmd.Flags().GetBool("input")
			r := &lineRenderer{out: cmd.OutOrStdout(), errOut: cmd.ErrOrStderr(), json: asJSON}

			return runClient(cmd, cmd.ErrOrStderr(), r, func(ctx context.Context, c *client.Client) error {
				quit := make(chan struct{})
				if readInput {
					go func() {
						if readCommands(ctx, cmd.InOrStdin(), tui.NewRunner(c), r) {
							close(quit)
						}
					}()
				}
				select {
				case <-ctx.Done():
				case <-quit:
				}
				return nil
			})
		},
	}
	addConnectFlags(cmd)
	cmd.Flags().Bool("json", false, "print events as JSON lines")
	cmd.Flags().Bool("input", true, "read messages and /commands from stdin")
	return cmd
}

// readCommands feeds input lines to runner until EOF or /quit. It reports
// whether the user asked to quit.
func readCommands(ctx context.Context, in io.Reader, runner *tui.Runner, r *lineRenderer) bool {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		if ctx.Err() != nil {
			return false
		}
		quit, note, err := runner.Exec(sc.Text())
		switch {
		case err != nil:
			r.info("! " + err.Error())
		case note != "":
			r.info(note)
		}
		if quit {
			return true
		}
	}
	return false
}

// lineRenderer prints the feed to out and everything else to errOut. It never
// scrolls away from the bottom, so nothing is ever held back.
type lineRenderer struct {
	mu     sync.Mutex
	out    io.Writer
	errOut io.Writer
	json   bool
}

func (r *lineRenderer) Render(ev message.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.json {
		data, err := json.Marshal(ev)
		if err != nil {
			return
		}
		fmt.Fprintln(r.out, string(data))
		return
	}
	fmt.Fprintln(r.out, formatLine(ev))
}

func (r *lineRenderer) Evict(int)         {}
func (r *lineRenderer) ScrollToBottom()   {}
func (r *lineRenderer) ShowPaused(string) {}
func (r *lineRenderer) HidePaused()       {}
func (r *lineRenderer) Clear()            {}

func (r *lineRenderer) Connection(state session.State, targets message.Targets) {
	r.infof("-- %s %s", state, describeTargets(targets))
}

func (r *lineRenderer) Presence(presence.Snapshot) {}

func (r *lineRenderer) ComposeOptions(options []compose.Target, reply *compose.ReplyTarget) {
	if reply != nil {
		r.infof("-- replying to @%s in %s", reply.Username, reply.Target())
	}
}

func (r *lineRenderer) ComposeBusy(bool) {}

func (r *lineRenderer) Auth(status backend.AuthStatus) {
	if !status.Authenticated || status.User == nil {
		r.info("-- not logged in")
		return
	}
	var linked []string
	for _, p := range message.Platforms {
		if status.Linked()[p] {
			linked = append(linked, string(p))
		}
	}
	r.infof("-- logged in as %s (%s)", status.User.DisplayName, strings.Join(linked, ", "))
}

func (r *lineRenderer) info(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.errOut, text)
}

func (r *lineRenderer) infof(format string, args ...any) {
	r.info(fmt.Sprintf(format, args...))
}

func formatLine(ev message.Event) string {
	switch ev.Kind {
	case message.KindStatus:
		return "* " + ev.Message
	case message.KindError:
		return "! " + ev.Message
	}
	if !ev.Kind.Known() {
		return ev.Verbatim()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[%s/%s]", ev.Platform, ev.Channel)
	if ev.ID != "" {
		fmt.Fprintf(&b, " (%s)", ev.ID)
	}
	fmt.Fprintf(&b, " %s", ev.User)
	if ev.Reply != nil && ev.Reply.User != "" {
		fmt.Fprintf(&b, " -> @%s", ev.Reply.User)
	}
	fmt.Fprintf(&b, ": %s", ev.Message)
	return b.String()
}

func describeTargets(t message.Targets) string {
	var parts []string
	for _, p := range message.Platforms {
		if chans := t.Get(p); len(chans) > 0 {
			parts = append(parts, fmt.Sprintf("%s: %s", p, strings.Join(chans, ", ")))
		}
	}
	if len(parts) == 0 {
		return "(no channels)"
	}
	return strings.Join(parts, "; ")
}
