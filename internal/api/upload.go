package api

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"os"
	"path/filepath"

	"wa-console/internal/utils/media"
)

// ProgressFunc receives upload progress as a percentage in [0, 100].
type ProgressFunc func(percent int)

// fileForm returns a constructor for a streaming multipart body holding the
// given fields and the file at path under fileField. Each call reopens the
// file, so a body can be rebuilt for a replay.
func fileForm(path, fileField string, fields map[string]string, progress ProgressFunc) func() (io.ReadCloser, string, error) {
	return func() (io.ReadCloser, string, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, "", fmt.Errorf("failed to open %s: %w", path, err)
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, "", fmt.Errorf("failed to stat %s: %w", path, err)
		}

		pr, pw := io.Pipe()
		mw := multipart.NewWriter(pw)

		go func() {
			defer f.Close()
			pw.CloseWithError(writeForm(mw, f, info.Size(), path, fileField, fields, progress))
		}()

		return pr, mw.FormDataContentType(), nil
	}
}

func writeForm(mw *multipart.Writer, f io.Reader, size int64, path, fileField string, fields map[string]string, progress ProgressFunc) error {
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return err
		}
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, fileField, filepath.Base(path)))
	h.Set("Content-Type", media.MimeType(path))
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}

	src := f
	if progress != nil {
		progress(0)
		src = &progressReader{r: f, total: size, fn: progress}
	}
	if _, err := io.Copy(part, src); err != nil {
		return err
	}
	// the server cannot answer before the closing boundary, so 100 is
	// always observed before the response
	if progress != nil {
		progress(100)
	}
	return mw.Close()
}

// progressReader reports how much of total has been read, emitting each
// percentage at most once.
type progressReader struct {
	r     io.Reader
	total int64
	read  int64
	last  int
	fn    ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)
	if p.total > 0 {
		// 100 is reported once the whole file was handed over
		pct := int(p.read * 99 / p.total)
		if pct > p.last {
			p.last = pct
			p.fn(pct)
		}
	}
	return n, err
}
