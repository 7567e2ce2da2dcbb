package service

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"html/template"
	"net/url"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/spec-kit/ticket-lifecycle/internal/auth"
	"github.com/spec-kit/ticket-lifecycle/internal/clock"
	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/transport"
)

// DefaultHistoryLimit bounds history scans for transcripts and stats.
const DefaultHistoryLimit = 2000

// TranscriptRef points at a delivered transcript.
type TranscriptRef struct {
	LogMessageID  string
	AttachmentURL string
	ViewerURL     string
	Digest        string
	MessageCount  int
}

// TranscriptDocument is a rendered channel history.
type TranscriptDocument struct {
	FileName     string
	HTML         []byte
	Digest       string
	MessageCount int
}

// TranscriptService renders channel history and aggregates participants.
type TranscriptService struct {
	transport    transport.Transport
	links        *auth.TokenManager
	baseURL      string
	historyLimit int
	clock        clock.Clock
	logger       *zap.Logger
	md           goldmark.Markdown
	policy       *bluemonday.Policy
}

// TranscriptDependencies bundles collaborators for the transcript service.
type TranscriptDependencies struct {
	Transport    transport.Transport
	Links        *auth.TokenManager
	BaseURL      string
	HistoryLimit int
	Clock        clock.Clock
	Logger       *zap.Logger
}

// NewTranscriptService constructs the service.
func NewTranscriptService(deps TranscriptDependencies) *TranscriptService {
	limit := deps.HistoryLimit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.Real()
	}
	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			extension.Strikethrough,
			extension.Linkify,
		),
		goldmark.WithRendererOptions(
			html.WithHardWraps(),
			html.WithXHTML(),
		),
	)
	policy := bluemonday.UGCPolicy()
	policy.AllowAttrs("class").Matching(bluemonday.SpaceSeparatedTokens).OnElements("code", "span", "div", "pre")

	return &TranscriptService{
		transport:    deps.Transport,
		links:        deps.Links,
		baseURL:      deps.BaseURL,
		historyLimit: limit,
		clock:        clk,
		logger:       logger,
		md:           md,
		policy:       policy,
	}
}

// CollectParticipants scans up to limit recent messages and returns the
// distinct authors resolved to guild members, plus the number of messages
// scanned. Authors that cannot be resolved are dropped.
func (s *TranscriptService) CollectParticipants(ctx context.Context, guildID, channelID string, limit int) ([]domain.Member, int, error) {
	if limit <= 0 {
		limit = s.historyLimit
	}
	history, err := s.transport.History(ctx, channelID, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("read history: %w", err)
	}

	seen := make(map[string]struct{})
	var names []string
	for _, msg := range history {
		name := msg.Author.Label()
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}

	members := make([]domain.Member, 0, len(names))
	for _, name := range names {
		m, err := s.transport.MemberByName(ctx, guildID, name)
		if err != nil {
			s.logger.Debug("participant not resolved", zap.String("name", name), zap.Error(err))
			continue
		}
		members = append(members, *m)
	}
	return members, len(history), nil
}

var transcriptPage = template.Must(template.New("transcript").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body{font-family:sans-serif;background:#36393f;color:#dcddde;margin:2em}
.msg{margin-bottom:1em}.author{font-weight:bold;color:#fff}.ts{color:#72767d;font-size:.8em;margin-left:.5em}
.embed{border-left:4px solid #4f545c;padding-left:.5em;margin:.3em 0}
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<p>{{.Count}} messages, generated {{.Generated}}</p>
{{range .Messages}}<div class="msg"><span class="author">{{.Author}}</span><span class="ts">{{.Time}}</span>
<div class="body">{{.Body}}</div>{{range .Embeds}}<div class="embed">{{.}}</div>{{end}}{{range .Attachments}}<div><a href="{{.URL}}">{{.Name}}</a></div>{{end}}</div>
{{end}}</body>
</html>
`))

type transcriptMessage struct {
	Author      string
	Time        string
	Body        template.HTML
	Embeds      []template.HTML
	Attachments []transport.Attachment
}

// Render produces the HTML transcript of the channel. Message bodies are
// rendered as markdown and sanitised.
func (s *TranscriptService) Render(ctx context.Context, channelID, channelName string) (*TranscriptDocument, error) {
	history, err := s.transport.History(ctx, channelID, s.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}

	msgs := make([]transcriptMessage, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		m := history[i]
		tm := transcriptMessage{
			Author:      m.Author.Label(),
			Time:        m.CreatedAt.UTC().Format(time.RFC3339),
			Body:        s.markdown(m.Content),
			Attachments: m.Attachments,
		}
		for _, e := range m.Embeds {
			text := e.Description
			if e.Title != "" {
				text = "**" + e.Title + "**\n" + text
			}
			for _, f := range e.Fields {
				text += "\n**" + f.Name + "**: " + f.Value
			}
			tm.Embeds = append(tm.Embeds, s.markdown(text))
		}
		msgs = append(msgs, tm)
	}

	var buf bytes.Buffer
	err = transcriptPage.Execute(&buf, map[string]any{
		"Title":     channelName,
		"Count":     len(history),
		"Generated": s.clock.Now().UTC().Format(time.RFC3339),
		"Messages":  msgs,
	})
	if err != nil {
		return nil, fmt.Errorf("render transcript: %w", err)
	}

	sum := blake2b.Sum256(buf.Bytes())
	return &TranscriptDocument{
		FileName:     channelName + ".html",
		HTML:         buf.Bytes(),
		Digest:       hex.EncodeToString(sum[:]),
		MessageCount: len(history),
	}, nil
}

func (s *TranscriptService) markdown(src string) template.HTML {
	var buf bytes.Buffer
	if err := s.md.Convert([]byte(src), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(src))
	}
	// Sanitised by the UGC policy before being marked safe.
	return template.HTML(s.policy.Sanitize(buf.String()))
}

func (d *TranscriptDocument) file() transport.File {
	return transport.File{Name: d.FileName, ContentType: "text/html; charset=utf-8", Data: d.HTML}
}

// BuildTranscript renders the channel, archives the file in the log
// channel and delivers a copy to the owner. A nil ref with a nil error
// means the owner could not be reached privately.
func (s *TranscriptService) BuildTranscript(ctx context.Context, channelID, channelName string, owner domain.Member, logChannelID string) (*TranscriptRef, error) {
	doc, err := s.Render(ctx, channelID, channelName)
	if err != nil {
		return nil, err
	}
	ref, err := s.upload(ctx, channelID, doc, logChannelID,
		fmt.Sprintf("Transcript of **%s** (owner %s), blake2b `%s`", channelName, owner.Mention(), doc.Digest))
	if err != nil {
		return nil, err
	}

	_, err = s.transport.SendDirect(ctx, owner.ID, transport.OutgoingMessage{
		Content: fmt.Sprintf("Here is the transcript of your ticket **%s**.", channelName),
		Files:   []transport.File{doc.file()},
	})
	if err != nil {
		s.logger.Info("transcript not delivered to owner",
			zap.String("channel_id", channelID),
			zap.String("owner_id", owner.ID),
			zap.Error(err))
		return nil, nil
	}
	return ref, nil
}

// SendTo renders the channel and posts the transcript to destinationID.
func (s *TranscriptService) SendTo(ctx context.Context, channelID, channelName, destinationID string) (*TranscriptRef, error) {
	doc, err := s.Render(ctx, channelID, channelName)
	if err != nil {
		return nil, err
	}
	return s.upload(ctx, channelID, doc, destinationID, fmt.Sprintf("Transcript of **%s**", channelName))
}

func (s *TranscriptService) upload(ctx context.Context, channelID string, doc *TranscriptDocument, destinationID, content string) (*TranscriptRef, error) {
	msg, err := s.transport.SendMessage(ctx, destinationID, transport.OutgoingMessage{
		Content: content,
		Files:   []transport.File{doc.file()},
	})
	if err != nil {
		return nil, fmt.Errorf("upload transcript: %w", err)
	}
	ref := &TranscriptRef{
		LogMessageID: msg.ID,
		Digest:       doc.Digest,
		MessageCount: doc.MessageCount,
	}
	if len(msg.Attachments) > 0 {
		ref.AttachmentURL = msg.Attachments[0].URL
		ref.ViewerURL = s.viewerURL(channelID, ref.AttachmentURL, doc.Digest)
	}
	return ref, nil
}

func (s *TranscriptService) viewerURL(channelID, attachmentURL, digest string) string {
	if s.links == nil || s.baseURL == "" {
		return attachmentURL
	}
	token, err := s.links.SignTranscriptLink(channelID, attachmentURL, digest)
	if err != nil {
		s.logger.Warn("sign transcript link", zap.Error(err))
		return attachmentURL
	}
	return s.baseURL + "/direct?token=" + url.QueryEscape(token)
}
