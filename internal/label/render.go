package label

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"html/template"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	qrcode "github.com/skip2/go-qrcode"
)

// Renderer turns a payload into a printable artifact.
type Renderer interface {
	Render(ctx context.Context, p Payload) ([]byte, error)
	ContentType() string
}

type Config struct {
	// BaseURL is the public origin embedded in access URLs.
	BaseURL      string        `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:8080"`
	ChromiumPath string        `env:"CHROMIUM_PATH"`
	Timeout      time.Duration `env:"RENDER_TIMEOUT" envDefault:"15s"`
	TimeZone     string        `env:"LABEL_TIMEZONE" envDefault:"UTC"`
	QRSize       int           `env:"LABEL_QR_SIZE" envDefault:"256"`
}

// LoadConfig reads LOTFLOW_* label settings.
func LoadConfig() (Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](env.Options{Prefix: "LOTFLOW_"})
	if err != nil {
		return Config{}, fmt.Errorf("parse label env: %w", err)
	}
	return cfg, nil
}

// PDFRenderer prints labels to PDF via headless Chromium.
type PDFRenderer struct {
	cfg Config
}

func NewPDFRenderer(cfg Config) PDFRenderer {
	return PDFRenderer{cfg: cfg}
}

func (r PDFRenderer) ContentType() string { return "application/pdf" }

// Render builds the label HTML and prints it to PDF. If Chromium is
// unavailable it returns an error; the token has already been issued by then.
func (r PDFRenderer) Render(ctx context.Context, p Payload) ([]byte, error) {
	html, err := RenderHTML(p, r.cfg)
	if err != nil {
		return nil, fmt.Errorf("render html: %w", err)
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
	)
	if r.cfg.ChromiumPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(r.cfg.ChromiumPath))
	}
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	defer cancelAlloc()

	timeout := r.cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	runCtx, cancelRun := chromedp.NewContext(allocCtx)
	defer cancelRun()
	runCtx, cancelTimeout := context.WithTimeout(runCtx, timeout)
	defer cancelTimeout()

	var pdf []byte
	err = chromedp.Run(runCtx,
		chromedp.Navigate("data:text/html,"+url.PathEscape(html)),
		chromedp.ActionFunc(func(ctx context.Context) error {
			buf, _, perr := page.PrintToPDF().
				WithPrintBackground(true).
				WithPaperWidth(4).
				WithPaperHeight(6).
				Do(ctx)
			if perr == nil {
				pdf = buf
			}
			return perr
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("chromedp run failed: %w", err)
	}
	return pdf, nil
}

type labelData struct {
	Payload  Payload
	Encoded  string
	QR       template.URL
	Issued   string
	Expires  string
	Made     string
	Received string
}

// RenderHTML produces the label document: descriptive fields, validity
// window and a QR code of the encoded payload.
func RenderHTML(p Payload, cfg Config) (string, error) {
	tz, err := time.LoadLocation(cfg.TimeZone)
	if err != nil || cfg.TimeZone == "" {
		tz = time.UTC
	}
	encoded, err := p.Encode()
	if err != nil {
		return "", err
	}
	size := cfg.QRSize
	if size <= 0 {
		size = 256
	}
	png, err := qrcode.Encode(encoded, qrcode.Medium, size)
	if err != nil {
		return "", fmt.Errorf("qr encode: %w", err)
	}

	data := labelData{
		Payload: p,
		Encoded: encoded,
		QR:      template.URL("data:image/png;base64," + base64.StdEncoding.EncodeToString(png)),
		Issued:  p.IssuedAt.In(tz).Format("2006-01-02 15:04 MST"),
		Expires: p.ExpiresAt.In(tz).Format("2006-01-02 15:04 MST"),
	}
	if p.ManufactureDate != nil {
		data.Made = p.ManufactureDate.In(tz).Format("2006-01-02")
	}
	if p.DeliveryDate != nil {
		data.Received = p.DeliveryDate.In(tz).Format("2006-01-02")
	}

	var buf bytes.Buffer
	if err := labelTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

var labelTemplate = template.Must(template.New("label").Parse(`
<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <style>
    body { font-family: 'Helvetica Neue', Arial, sans-serif; margin: 16px; color: #0f172a; }
    h1 { margin: 0 0 4px; font-size: 20px; }
    .label { font-size: 10px; color: #475569; text-transform: uppercase; }
    .value { font-size: 13px; margin-bottom: 6px; }
    .qr { text-align: center; margin: 12px 0; }
    .qr img { width: 2.5in; height: 2.5in; }
    .code { font-family: monospace; font-size: 7px; word-break: break-all; color: #64748b; }
  </style>
</head>
<body>
  <h1>{{.Payload.Name}}</h1>
  <div class="label">Lot</div>
  <div class="value">{{.Payload.LotID}}</div>
  {{if .Payload.BatchNumber}}<div class="label">Batch</div><div class="value">{{.Payload.BatchNumber}}</div>{{end}}
  {{if .Payload.Source}}<div class="label">Source</div><div class="value">{{.Payload.Source}}</div>{{end}}
  {{if .Made}}<div class="label">Manufactured</div><div class="value">{{.Made}}</div>{{end}}
  {{if .Received}}<div class="label">Delivered</div><div class="value">{{.Received}}</div>{{end}}
  <div class="qr"><img src="{{.QR}}" alt="access code" /></div>
  <div class="label">Valid</div>
  <div class="value">{{.Issued}} to {{.Expires}}</div>
  <div class="code">{{.Encoded}}</div>
</body>
</html>
`))
