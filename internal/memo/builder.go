package memo

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	memoerrors "github.com/memoindex/memosearch/internal/errors"
)

// CaptionProvider produces a caption for a resolved image payload. A null
// or errored caption is not fatal to the build: the builder falls back to
// the attachment's filename.
type CaptionProvider interface {
	Caption(ctx context.Context, imagePayload string, meta map[string]string) (string, error)
}

// CaptionFunc adapts a plain function to CaptionProvider.
type CaptionFunc func(ctx context.Context, imagePayload string, meta map[string]string) (string, error)

func (f CaptionFunc) Caption(ctx context.Context, imagePayload string, meta map[string]string) (string, error) {
	return f(ctx, imagePayload, meta)
}

// Build converts a memo into its base text node plus attachment text and
// image nodes. An unparseable memo (missing memo_uid) is
// rejected at the boundary; every other per-attachment failure is logged
// and skipped.
func Build(ctx context.Context, m *Memo, cfg BuildConfig, captioner CaptionProvider) (*Docs, error) {
	return BuildWithClient(ctx, m, cfg, captioner, http.DefaultClient)
}

// BuildWithClient is Build with an injectable HTTP client, for fetching
// images from the memo server and for tests.
func BuildWithClient(ctx context.Context, m *Memo, cfg BuildConfig, captioner CaptionProvider, client *http.Client) (*Docs, error) {
	if m == nil || strings.TrimSpace(m.Name) == "" {
		return nil, memoerrors.New(memoerrors.ErrCodeMissingMemoUID, "memo has no name (memo_uid)", nil)
	}
	applyDefaults(&cfg)

	attachmentBlock := buildAttachmentBlock(m.Attachments, cfg.MaxAttachments, cfg.AttachmentSnippetLen)
	baseText := strings.TrimSpace(m.Content)
	if attachmentBlock != "" {
		baseText = fmt.Sprintf("%s\n\n[Attachments]\n%s", baseText, attachmentBlock)
	}

	baseNode := &Node{
		ID:       fmt.Sprintf("memo:%s", m.Name),
		Kind:     NodeKindBaseText,
		MemoUID:  m.Name,
		Content:  baseText,
		Metadata: buildMetadata(m, len(m.Attachments)),
	}

	imageAttachments := make([]indexedAttachment, 0)
	for idx, att := range m.Attachments {
		if isImage(att) {
			imageAttachments = append(imageAttachments, indexedAttachment{idx, att})
			if cfg.MaxImages > 0 && len(imageAttachments) >= cfg.MaxImages {
				break
			}
		}
	}

	images := resolveImages(ctx, m, imageAttachments, cfg, client)
	images = captionImages(ctx, m, images, captioner)

	attachmentNodes := make([]*Node, 0)
	for idx, att := range m.Attachments {
		if !isTextLike(att) {
			continue
		}
		text := attachmentText(att, cfg.AttachmentTextMaxLen)
		if text == "" {
			continue
		}
		attachmentNodes = append(attachmentNodes, &Node{
			ID:      fmt.Sprintf("memo:%s:att:%d", m.Name, idx),
			Kind:    NodeKindAttachmentText,
			MemoUID: m.Name,
			Content: text,
			Metadata: map[string]string{
				"memo_uid":       m.Name,
				"creator":        m.Creator,
				"attachment_uid": att.Name,
				"filename":       att.Filename,
				"type":           att.Type,
				"source":         "memo_attachment",
			},
		})
	}

	return &Docs{
		BaseText:    baseNode,
		Attachments: attachmentNodes,
		Images:      imageNodes(m, images),
	}, nil
}

func applyDefaults(cfg *BuildConfig) {
	d := DefaultBuildConfig()
	if cfg.MaxImages == 0 {
		cfg.MaxImages = d.MaxImages
	}
	if cfg.MaxAttachments == 0 {
		cfg.MaxAttachments = d.MaxAttachments
	}
	if cfg.AttachmentSnippetLen == 0 {
		cfg.AttachmentSnippetLen = d.AttachmentSnippetLen
	}
	if cfg.AttachmentTextMaxLen == 0 {
		cfg.AttachmentTextMaxLen = d.AttachmentTextMaxLen
	}
}

type indexedAttachment struct {
	idx int
	att Attachment
}

type resolvedImage struct {
	idx     int
	att     Attachment
	payload string
	caption string
}

func isImage(att Attachment) bool {
	return strings.HasPrefix(strings.ToLower(att.Type), "image/")
}

func isTextLike(att Attachment) bool {
	mime := strings.ToLower(att.Type)
	return strings.HasPrefix(mime, "text/") || mime == "text/markdown" || mime == "application/markdown"
}

// maybeDecodeText strips a data: prefix, attempts base64 decode, and
// falls back to treating the remainder as UTF-8 text.
func maybeDecodeText(raw string) string {
	if raw == "" {
		return ""
	}
	dataPart := raw
	hadDataPrefix := false
	if strings.HasPrefix(raw, "data:") {
		hadDataPrefix = true
		if idx := strings.Index(raw, ","); idx >= 0 {
			dataPart = raw[idx+1:]
		}
	}

	if decoded, err := base64.StdEncoding.DecodeString(dataPart); err == nil {
		if text := strings.TrimSpace(string(decoded)); text != "" {
			return text
		}
	}

	if hadDataPrefix {
		return ""
	}
	return strings.TrimSpace(raw)
}

func attachmentText(att Attachment, maxLen int) string {
	text := maybeDecodeText(att.Content)
	if text == "" {
		return ""
	}
	if maxLen > 0 && len(text) > maxLen {
		return text[:maxLen] + "..."
	}
	return text
}

func attachmentPreview(att Attachment, maxLen int) string {
	text := attachmentText(att, maxLen)
	if text == "" {
		return ""
	}
	compact := strings.TrimSpace(strings.ReplaceAll(text, "\n", " "))
	if maxLen > 0 && len(compact) > maxLen {
		return compact[:maxLen] + "..."
	}
	return compact
}

func buildAttachmentBlock(attachments []Attachment, maxAttachments, snippetLen int) string {
	var lines []string
	count := 0
	for _, att := range attachments {
		if isImage(att) {
			continue
		}
		count++
		if maxAttachments > 0 && count > maxAttachments {
			break
		}

		attType := strings.ToLower(att.Type)
		if attType == "" {
			attType = "unknown"
		}
		filename := att.Filename
		if filename == "" {
			filename = att.Name
		}
		if filename == "" {
			filename = "unknown"
		}

		line := fmt.Sprintf("%d) type: %s, filename: %s", count, attType, filename)
		if preview := attachmentPreview(att, snippetLen); preview != "" {
			line = fmt.Sprintf("%s, preview: %s", line, preview)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func buildMetadata(m *Memo, attachmentCount int) map[string]string {
	metadata := map[string]string{
		"memo_uid":         m.Name,
		"creator":          m.Creator,
		"created_at":       m.CreateTime,
		"updated_at":       m.UpdateTime,
		"display_time":     m.DisplayTime,
		"visibility":       m.Visibility,
		"pinned":           strconv.FormatBool(m.Pinned),
		"tags":             strings.Join(m.Tags, ", "),
		"ai_tags":          strings.Join(m.AITags, ", "),
		"attachment_count": strconv.Itoa(attachmentCount),
		"source":           "memo",
	}
	if m.Property != nil {
		metadata["properties"] = fmt.Sprintf(
			"hasLink=%t, hasTaskList=%t, hasCode=%t, hasIncompleteTasks=%t",
			m.Property.HasLink, m.Property.HasTaskList, m.Property.HasCode, m.Property.HasIncompleteTasks,
		)
	}
	for k, v := range metadata {
		if v == "" {
			delete(metadata, k)
		}
	}
	return metadata
}

// resolveImages resolves each image payload with the precedence
// externalLink > inline content > memo-server fetch. Unresolvable payloads
// are skipped with a warning, not fatal to the build.
func resolveImages(ctx context.Context, m *Memo, atts []indexedAttachment, cfg BuildConfig, client *http.Client) []resolvedImage {
	resolved := make([]resolvedImage, 0, len(atts))
	for _, ia := range atts {
		payload, err := resolveImagePayload(ctx, ia.att, cfg, client)
		if err != nil || payload == "" {
			slog.Warn("memo: cannot resolve image payload",
				slog.String("memo_uid", m.Name),
				slog.String("attachment_uid", ia.att.Name),
				slog.Any("error", err),
			)
			continue
		}
		resolved = append(resolved, resolvedImage{idx: ia.idx, att: ia.att, payload: payload})
	}
	return resolved
}

func resolveImagePayload(ctx context.Context, att Attachment, cfg BuildConfig, client *http.Client) (string, error) {
	if att.ExternalLink != "" {
		return att.ExternalLink, nil
	}

	if att.Content != "" {
		if strings.HasPrefix(att.Content, "data:") {
			return att.Content, nil
		}
		mime := att.Type
		if mime == "" {
			mime = "application/octet-stream"
		}
		return fmt.Sprintf("data:%s;base64,%s", mime, att.Content), nil
	}

	if cfg.MemosBaseURL == "" || att.Name == "" || att.Filename == "" {
		return "", nil
	}

	fetchURL := fmt.Sprintf("%s/file/%s/%s", cfg.MemosBaseURL, att.Name, url.PathEscape(att.Filename))
	return fetchImageDataURL(ctx, client, fetchURL, att.Type, cfg.MemosSessionCookie)
}

func fetchImageDataURL(ctx context.Context, client *http.Client, rawURL, mimeType, sessionCookie string) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	if sessionCookie != "" {
		req.AddCookie(&http.Cookie{Name: "user_session", Value: sessionCookie})
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("memo server returned status %d fetching %s", resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	contentType := strings.Split(resp.Header.Get("Content-Type"), ";")[0]
	if contentType == "" {
		contentType = mimeType
	}
	if contentType == "" {
		contentType = "image/jpeg"
	}

	return fmt.Sprintf("data:%s;base64,%s", contentType, base64.StdEncoding.EncodeToString(body)), nil
}

// captionImages invokes captioner for every resolved image in parallel and
// awaits the whole batch. A missing provider, or a
// null/errored caption, falls back to the attachment's filename.
func captionImages(ctx context.Context, m *Memo, images []resolvedImage, captioner CaptionProvider) []resolvedImage {
	for i := range images {
		images[i].caption = fallbackCaption(images[i].att)
	}
	if captioner == nil || len(images) == 0 {
		return images
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range images {
		i := i
		g.Go(func() error {
			meta := map[string]string{
				"memo_uid":       m.Name,
				"attachment_uid": images[i].att.Name,
				"filename":       images[i].att.Filename,
				"type":           images[i].att.Type,
			}
			caption, err := captioner.Caption(gctx, images[i].payload, meta)
			if err != nil {
				slog.Warn("memo: caption provider failed, falling back to filename",
					slog.String("memo_uid", m.Name),
					slog.String("attachment_uid", images[i].att.Name),
					slog.Any("error", err),
				)
				return nil
			}
			if strings.TrimSpace(caption) != "" {
				images[i].caption = caption
			}
			return nil
		})
	}
	_ = g.Wait() // per-image failures are handled above; the group never returns an error

	return images
}

func fallbackCaption(att Attachment) string {
	if att.Filename != "" {
		return att.Filename
	}
	return att.Name
}

func imageNodes(m *Memo, images []resolvedImage) []*Node {
	sort.SliceStable(images, func(i, j int) bool { return images[i].idx < images[j].idx })

	nodes := make([]*Node, 0, len(images))
	for _, img := range images {
		nodes = append(nodes, &Node{
			ID:      fmt.Sprintf("memo:%s:img:%d", m.Name, img.idx),
			Kind:    NodeKindImage,
			MemoUID: m.Name,
			Content: img.payload,
			Caption: img.caption,
			Metadata: map[string]string{
				"memo_uid":       m.Name,
				"creator":        m.Creator,
				"attachment_uid": img.att.Name,
				"filename":       img.att.Filename,
				"type":           img.att.Type,
			},
		})
	}
	return nodes
}
