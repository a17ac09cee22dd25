package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/tokligence/chatrelay/internal/bootstrap"
	"github.com/tokligence/chatrelay/internal/catalog"
	"github.com/tokligence/chatrelay/internal/chat"
	"github.com/tokligence/chatrelay/internal/conversation"
)

// maxImageBytes matches the relay's request bound with room for encoding.
const maxImageBytes = 20 << 20

type app struct {
	svc     *conversation.Service
	catalog *catalog.Catalog
	out     io.Writer
	errOut  io.Writer

	printed int
}

// printDelta writes the part of the accumulated reply not yet printed.
func (a *app) printDelta(accumulated string) {
	if len(accumulated) <= a.printed {
		return
	}
	fmt.Fprint(a.out, accumulated[a.printed:])
	a.printed = len(accumulated)
}

func (a *app) send(ctx context.Context, cmd *sendCmd) error {
	text := strings.Join(cmd.Text, " ")
	images := make([]string, 0, len(cmd.Image))
	for _, path := range cmd.Image {
		uri, err := readImage(path)
		if err != nil {
			return err
		}
		images = append(images, uri)
	}
	if strings.TrimSpace(text) == "" && len(images) == 0 {
		return errors.New("send: message text or --image required")
	}

	convID := cmd.Conversation
	if convID == "" && (cmd.Model != "" || cmd.System != nil) {
		conv, err := a.svc.Create(ctx)
		if err != nil {
			return err
		}
		convID = conv.ID
	}
	if cmd.Model != "" {
		if _, ok := a.catalog.Get(cmd.Model); !ok {
			fmt.Fprintf(a.errOut, "warning: model %q is not in the catalog\n", cmd.Model)
		}
		if _, err := a.svc.SetModel(ctx, convID, cmd.Model); err != nil {
			return err
		}
	}
	if cmd.System != nil {
		if _, err := a.svc.SetSystemPrompt(ctx, convID, *cmd.System); err != nil {
			return err
		}
	}

	a.printed = 0
	reply, err := a.svc.Send(ctx, convID, text, images)
	if err != nil {
		return err
	}
	if a.printed > 0 {
		fmt.Fprintln(a.out)
	}
	fmt.Fprintf(a.errOut, "conversation %s\n", reply.ConversationID)
	if conversation.IsErrorReply(reply.Content) {
		return errors.New(strings.TrimPrefix(reply.Content, conversation.ErrorPrefix))
	}
	return nil
}

// readImage loads path as a data URI. The media type is sniffed from the
// content and must be one the relay accepts.
func readImage(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	defer f.Close()
	raw, err := io.ReadAll(io.LimitReader(f, maxImageBytes+1))
	if err != nil {
		return "", fmt.Errorf("read image %s: %w", path, err)
	}
	if len(raw) > maxImageBytes {
		return "", fmt.Errorf("image %s is larger than %d bytes", path, maxImageBytes)
	}
	mediaType := http.DetectContentType(raw)
	uri := chat.EncodeDataURI(mediaType, raw)
	if _, ok := chat.ParseDataURI(uri); !ok {
		return "", fmt.Errorf("image %s: unsupported type %s", path, mediaType)
	}
	return uri, nil
}

func (a *app) list(ctx context.Context) error {
	convs, err := a.svc.List(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tUPDATED\tMODEL\tTITLE")
	for _, c := range convs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.ID, c.UpdatedAt.Local().Format(time.DateTime), c.Model, c.Title)
	}
	return tw.Flush()
}

func (a *app) show(ctx context.Context, id string) error {
	conv, msgs, err := a.svc.Show(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "# %s\nmodel: %s\n", conv.Title, conv.Model)
	if sp := conv.System(); sp != "" {
		fmt.Fprintf(a.out, "system: %s\n", sp)
	}
	for _, m := range msgs {
		fmt.Fprintf(a.out, "\n[%s %s]", m.Role, m.CreatedAt.Local().Format(time.DateTime))
		if n := len(m.ImageURLs); n > 0 {
			fmt.Fprintf(a.out, " (%d image(s))", n)
		}
		fmt.Fprintf(a.out, "\n%s\n", m.Content)
	}
	return nil
}

func (a *app) rename(ctx context.Context, id, title string) error {
	if strings.TrimSpace(title) == "" {
		return errors.New("rename: title required")
	}
	conv, err := a.svc.Rename(ctx, id, title)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "renamed %s to %q\n", conv.ID, conv.Title)
	return nil
}

func (a *app) system(ctx context.Context, id, prompt string) error {
	conv, err := a.svc.SetSystemPrompt(ctx, id, prompt)
	if err != nil {
		return err
	}
	if conv.SystemPrompt == nil {
		fmt.Fprintf(a.out, "cleared system prompt of %s\n", conv.ID)
		return nil
	}
	fmt.Fprintf(a.out, "updated system prompt of %s\n", conv.ID)
	return nil
}

func (a *app) delete(ctx context.Context, id string) error {
	if err := a.svc.Delete(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "deleted %s\n", id)
	return nil
}

func (a *app) models() error {
	def := a.catalog.Default().ID
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPROVIDER\t")
	for _, m := range a.catalog.List() {
		marker := ""
		if m.ID == def {
			marker = "(default)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.ID, m.Name, m.Provider, marker)
	}
	return tw.Flush()
}

func runInit(root string, cmd *initCmd, out io.Writer) error {
	opts := bootstrap.InitOptions{
		Root:        root,
		Environment: cmd.Env,
		DatabaseURL: cmd.DatabaseURL,
		Force:       cmd.Force,
	}
	if err := bootstrap.Init(opts); err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote config/setting.ini and config/%s/relay.ini under %s\n", cmd.Env, root)
	return nil
}
