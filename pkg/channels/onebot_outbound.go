package channels

import (
	"context"
	"encoding/base64"
	"errors"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/zhufengning/qqclaw/pkg/bus"
	"github.com/zhufengning/qqclaw/pkg/logger"
	"github.com/zhufengning/qqclaw/pkg/onebot"
	"github.com/zhufengning/qqclaw/pkg/utils"
)

const (
	apologyText = "抱歉，处理消息时出现了错误，请稍后再试。"
	linkRemoved = "[link removed]"

	// unsafeURLLevel is the check_url_safely level of a malicious link.
	unsafeURLLevel = 3
)

type mediaKind int

const (
	mediaFile mediaKind = iota
	mediaImage
	mediaRecord
	mediaVideo
)

var mediaExtensions = map[string]mediaKind{
	".jpg":  mediaImage,
	".jpeg": mediaImage,
	".png":  mediaImage,
	".gif":  mediaImage,
	".webp": mediaImage,
	".mp3":  mediaRecord,
	".amr":  mediaRecord,
	".silk": mediaRecord,
	".wav":  mediaRecord,
	".ogg":  mediaRecord,
	".mp4":  mediaVideo,
}

// Send delivers a reply from the reply pipeline.
func (c *OneBotChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	target, err := onebot.ParseTarget(msg.ChatID)
	if err != nil {
		return err
	}

	if msg.Error != "" {
		logger.WarnCF(c.Name(), "Reply pipeline failed", map[string]any{
			"chat_id": msg.ChatID,
			"error":   msg.Error,
		})
		if !c.config.EnableErrorNotify {
			return nil
		}
		return c.deliver(ctx, target, apologyText, nil, 0)
	}

	text := c.replyReaction(ctx, msg)

	var asker int64
	if target.Kind == onebot.TargetGroup && msg.ReplyToUser != "" {
		asker, _ = strconv.ParseInt(msg.ReplyToUser, 10, 64)
	}
	return c.deliver(ctx, target, text, msg.Media, asker)
}

// SendText sends plain text to a chat id such as "group:123".
func (c *OneBotChannel) SendText(ctx context.Context, to, text string) error {
	target, err := onebot.ParseTarget(to)
	if err != nil {
		return err
	}
	return c.deliver(ctx, target, text, nil, 0)
}

// deliver transforms, chunks and paces one reply. asker, when set, is
// mentioned at the start of every chunk.
func (c *OneBotChannel) deliver(ctx context.Context, target onebot.Target, text string, media []string, asker int64) error {
	text = c.prepareText(ctx, text)

	var errs []error
	sent := 0
	pace := func() error {
		if sent == 0 {
			return nil
		}
		return c.sleep(ctx, c.config.RateLimit())
	}

	for _, chunk := range utils.Chunk(text, c.config.MessageLimit()) {
		if err := pace(); err != nil {
			return err
		}
		if err := c.sendChunk(ctx, target, chunk, asker); err != nil {
			errs = append(errs, err)
		}
		sent++
	}
	for _, ref := range media {
		if strings.TrimSpace(ref) == "" {
			continue
		}
		if err := pace(); err != nil {
			return err
		}
		if err := c.sendAttachment(ctx, target, ref); err != nil {
			errs = append(errs, err)
		}
		sent++
	}

	if err := errors.Join(errs...); err != nil {
		logger.ErrorCF(c.Name(), "Failed to deliver reply", map[string]any{
			"chat_id": target.String(),
			"error":   err.Error(),
		})
		return err
	}
	return nil
}

func (c *OneBotChannel) prepareText(ctx context.Context, text string) string {
	if c.config.FormatMarkdown {
		text = utils.StripMarkdown(text)
	}
	if c.config.EnableURLCheck {
		text = c.redactUnsafeURLs(ctx, text)
	}
	if c.config.AntiRiskMode {
		text = utils.SpaceAfterURLs(text)
	}
	return text
}

func (c *OneBotChannel) redactUnsafeURLs(ctx context.Context, text string) string {
	checked := make(map[string]bool)
	for _, u := range utils.FindURLs(text) {
		if checked[u] {
			continue
		}
		checked[u] = true
		level, err := c.api.CheckURLSafely(ctx, u)
		if err != nil {
			logger.DebugCF(c.Name(), "URL check failed", map[string]any{
				"url":   u,
				"error": err.Error(),
			})
			continue
		}
		if level >= unsafeURLLevel {
			text = strings.ReplaceAll(text, u, linkRemoved)
		}
	}
	return text
}

func (c *OneBotChannel) sendChunk(ctx context.Context, target onebot.Target, chunk string, asker int64) error {
	if c.config.EnableTTS && c.config.AIVoiceID != "" && target.Kind == onebot.TargetGroup {
		err := c.api.SendGroupAIRecord(ctx, target.ID, c.config.AIVoiceID, chunk)
		if err == nil {
			return nil
		}
		logger.WarnCF(c.Name(), "AI voice failed, sending text", map[string]any{
			"error": err.Error(),
		})
	}

	segments := []onebot.Segment{onebot.TextSegment(chunk)}
	if asker > 0 {
		segments = []onebot.Segment{onebot.AtSegment(asker), onebot.TextSegment(" " + chunk)}
	}
	return c.api.SendMessage(ctx, target, segments)
}

func (c *OneBotChannel) sendAttachment(ctx context.Context, target onebot.Target, ref string) error {
	file, localPath, data := c.resolveMedia(ref)

	var seg onebot.Segment
	switch classifyMedia(ref, data) {
	case mediaImage:
		seg = onebot.ImageSegment(file)
	case mediaRecord:
		seg = onebot.RecordSegment(file)
	case mediaVideo:
		seg = onebot.VideoSegment(file)
	default:
		return c.uploadFile(ctx, target, ref, localPath)
	}
	return c.api.SendMessage(ctx, target, []onebot.Segment{seg})
}

// resolveMedia inlines file: URLs and absolute local paths as base64://.
// Other references are passed through unchanged.
func (c *OneBotChannel) resolveMedia(ref string) (file, localPath string, data []byte) {
	localPath = localMediaPath(ref)
	if localPath == "" {
		return ref, "", nil
	}
	data, err := c.readFile(localPath)
	if err != nil {
		logger.WarnCF(c.Name(), "Failed to read local media", map[string]any{
			"path":  localPath,
			"error": err.Error(),
		})
		return ref, localPath, nil
	}
	return "base64://" + base64.StdEncoding.EncodeToString(data), localPath, data
}

func localMediaPath(ref string) string {
	if strings.HasPrefix(ref, "file:") {
		u, err := url.Parse(ref)
		if err != nil || u.Path == "" {
			return ""
		}
		return filepath.FromSlash(u.Path)
	}
	if filepath.IsAbs(ref) {
		return ref
	}
	return ""
}

// classifyMedia decides the segment type from the extension, then from the
// sniffed content of local files.
func classifyMedia(ref string, data []byte) mediaKind {
	p := ref
	if u, err := url.Parse(ref); err == nil && u.Path != "" {
		p = u.Path
	}
	if kind, ok := mediaExtensions[strings.ToLower(path.Ext(p))]; ok {
		return kind
	}
	if len(data) == 0 {
		return mediaFile
	}
	mt := mimetype.Detect(data).String()
	switch {
	case strings.HasPrefix(mt, "image/"):
		return mediaImage
	case strings.HasPrefix(mt, "audio/"):
		return mediaRecord
	case strings.HasPrefix(mt, "video/"):
		return mediaVideo
	default:
		return mediaFile
	}
}

// uploadFile uploads a non-media attachment and falls back to a text link.
func (c *OneBotChannel) uploadFile(ctx context.Context, target onebot.Target, ref, localPath string) error {
	file := ref
	if localPath != "" {
		file = localPath
	}
	name := path.Base(file)
	if u, err := url.Parse(ref); err == nil && u.Path != "" && localPath == "" {
		name = path.Base(u.Path)
	}

	var err error
	switch target.Kind {
	case onebot.TargetGroup:
		err = c.api.UploadGroupFile(ctx, target.ID, file, name)
	case onebot.TargetPrivate:
		err = c.api.UploadPrivateFile(ctx, target.ID, file, name)
	default:
		err = errors.New("file upload is not supported in guilds")
	}
	if err == nil {
		return nil
	}

	logger.WarnCF(c.Name(), "File upload failed, sending link", map[string]any{
		"file":  name,
		"error": err.Error(),
	})
	return c.api.SendMessage(ctx, target, []onebot.Segment{onebot.TextSegment("[file] " + ref)})
}

func readLocalFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}
