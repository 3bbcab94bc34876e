// Package bot implements the chat front end that answers share links with
// direct media URLs.
package bot

import (
	"context"
	"log/slog"
	"strings"
)

const (
	msgGreeting   = "👋 Hi! Send me a Terabox link and I'll try to fetch a direct video link."
	msgInvalid    = "❌ Please send a valid Terabox link."
	msgProcessing = "⏳ Processing your link... Please wait."
	msgNotFound   = "❌ Sorry, I couldn't extract a direct video link."
)

// LinkResolver finds the direct media URL behind a share link.
type LinkResolver interface {
	Resolve(ctx context.Context, link string) (string, error)
	ProxiedURL(direct string) string
}

// Responder maps one incoming chat message to its replies.
type Responder struct {
	resolver LinkResolver
	logger   *slog.Logger
}

// NewResponder creates a Responder.
func NewResponder(r LinkResolver, logger *slog.Logger) *Responder {
	return &Responder{
		resolver: r,
		logger:   logger.With("component", "responder"),
	}
}

// Respond sends the replies for text through reply, in order. The
// acknowledgement for a link goes out before the page is fetched. Commands
// other than /start get no reply.
func (r *Responder) Respond(ctx context.Context, text string, reply func(string)) {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "/") {
		if command(text) == "/start" {
			reply(msgGreeting)
		}
		return
	}

	if !strings.HasPrefix(text, "http") {
		reply(msgInvalid)
		return
	}

	reply(msgProcessing)

	media, err := r.resolver.Resolve(ctx, text)
	if err != nil {
		r.logger.Error("resolve link", "err", err)
		reply(msgNotFound)
		return
	}

	msg := "✅ Direct video link found:\n" + media
	if proxied := r.resolver.ProxiedURL(media); proxied != "" {
		msg += "\n\nProxied:\n" + proxied
	}
	reply(msg)
}

// command returns the command word of text, without arguments or a
// trailing @botname.
func command(text string) string {
	word, _, _ := strings.Cut(text, " ")
	word, _, _ = strings.Cut(word, "@")
	return word
}
