package application

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/bnema/rexd/internal/domain"
	"github.com/bnema/rexd/internal/ports"
)

const (
	screenshotKey     = "screenshot"
	screenshotURLKey  = "screenshotUrl"
	screenshotURLsKey = "screenshotUrls"
)

type snapshot struct {
	data []byte
	url  string
}

// CaptureHook attaches a screenshot of every open page to the first item of
// a result. It never fails the execution it decorates.
type CaptureHook struct {
	logger *zap.Logger
}

func NewCaptureHook(logger *zap.Logger) *CaptureHook {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &CaptureHook{logger: logger.Named("capture")}
}

// Apply returns the number of attachments added.
func (h *CaptureHook) Apply(controller ports.Controller, result *domain.Result) (added int) {
	defer func() {
		if recovered := recover(); recovered != nil {
			h.logger.Error("capture panicked", zap.Any("panic", recovered))
			added = 0
		}
	}()

	if controller == nil || !controller.IsConnected() {
		return 0
	}

	var shots []snapshot
	for _, bc := range controller.Contexts() {
		for _, page := range bc.Pages() {
			data, err := page.Screenshot()
			if err != nil {
				h.logger.Warn("capture page", zap.String("url", page.URL()), zap.Error(err))
				continue
			}
			shots = append(shots, snapshot{data: data, url: page.URL()})
		}
	}
	if len(shots) == 0 {
		return 0
	}

	record := result.FirstRecord()
	if len(shots) == 1 {
		record.Attachments[screenshotKey] = pngAttachment(screenshotKey, shots[0].data).Map()
		record.Data[screenshotURLKey] = shots[0].url
		return 1
	}

	urls := make([]any, 0, len(shots))
	for i, shot := range shots {
		key := fmt.Sprintf("%s_%d", screenshotKey, i)
		record.Attachments[key] = pngAttachment(key, shot.data).Map()
		urls = append(urls, shot.url)
	}
	record.Data[screenshotURLsKey] = urls
	return len(shots)
}

// LogPages records the URLs of every open page. Failed executions have no
// result to attach screenshots to, so this is what survives of the capture.
func (h *CaptureHook) LogPages(controller ports.Controller, fields ...zap.Field) {
	defer func() {
		if recovered := recover(); recovered != nil {
			h.logger.Error("listing pages panicked", zap.Any("panic", recovered))
		}
	}()

	if controller == nil || !controller.IsConnected() {
		return
	}

	var urls []string
	for _, bc := range controller.Contexts() {
		for _, page := range bc.Pages() {
			urls = append(urls, page.URL())
		}
	}
	if len(urls) == 0 {
		return
	}
	h.logger.Info("pages open at failure", append(fields, zap.Strings("urls", urls))...)
}

func pngAttachment(name string, data []byte) domain.Attachment {
	return domain.Attachment{
		Data:          data,
		MimeType:      "image/png",
		FileName:      name + ".png",
		FileExtension: "png",
	}
}
