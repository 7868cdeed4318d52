// archives.go exposes the retention archive: the JSON Lines files the retention job writes
// before it deletes expired entries.
package admin

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/object-log/object-log/internal/crypto"
	"github.com/object-log/object-log/internal/storage"
)

// maxArchiveLine bounds one sealed line when decrypting a download.
const maxArchiveLine = 4 << 20

// ArchiveHandlers serves archive listings and downloads. store is nil when archiving is off.
type ArchiveHandlers struct {
	store  storage.Storage
	prefix string
	cipher *crypto.LineCipher
}

// NewArchiveHandlers creates a new ArchiveHandlers instance
func NewArchiveHandlers(store storage.Storage, prefix string) *ArchiveHandlers {
	return &ArchiveHandlers{store: store, prefix: strings.Trim(prefix, "/")}
}

// WithCipher makes downloads of sealed archives return the decrypted JSON Lines.
func (h *ArchiveHandlers) WithCipher(c *crypto.LineCipher) *ArchiveHandlers {
	h.cipher = c
	return h
}

// @Summary      List archives
// @Description  List retention archive files, oldest cutoff first. Superusers only.
// @Tags         Archives
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "archives: []ObjectInfo"
// @Failure      404  {object}  map[string]interface{}  "Archiving not enabled"
// @Router       /api/v1/archives [get]
func (h *ArchiveHandlers) ListArchivesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.store == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Archiving is not enabled"})
			return
		}

		listPrefix := ""
		if h.prefix != "" {
			listPrefix = h.prefix + "/"
		}
		objects, err := h.store.List(c.Request.Context(), listPrefix)
		if err != nil {
			slog.Error("failed to list archives", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list archives"})
			return
		}
		if objects == nil {
			objects = []storage.ObjectInfo{}
		}
		c.JSON(http.StatusOK, gin.H{"archives": objects})
	}
}

// @Summary      Download archive
// @Description  Stream one retention archive as JSON Lines. Superusers only.
// @Tags         Archives
// @Security     Bearer
// @Produce      application/x-ndjson
// @Param        path  path  string  true  "Archive path as returned by the listing"
// @Success      200
// @Failure      404  {object}  map[string]interface{}  "Archive not found"
// @Router       /api/v1/archives/{path} [get]
func (h *ArchiveHandlers) DownloadArchiveHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.store == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Archiving is not enabled"})
			return
		}

		p := strings.TrimPrefix(c.Param("path"), "/")
		clean := path.Clean(p)
		if p == "" || clean != p || strings.HasPrefix(clean, "../") ||
			(h.prefix != "" && !strings.HasPrefix(clean, h.prefix+"/")) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Archive not found"})
			return
		}

		rc, err := h.store.Download(c.Request.Context(), clean)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "Archive not found"})
				return
			}
			slog.Error("failed to open archive", "path", clean, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to open archive"})
			return
		}
		defer rc.Close()

		if h.cipher != nil && strings.HasSuffix(clean, crypto.SealedSuffix) {
			h.streamOpened(c, clean, rc)
			return
		}

		c.DataFromReader(http.StatusOK, -1, "application/x-ndjson", rc, map[string]string{
			"Content-Disposition": fmt.Sprintf(`attachment; filename="%s"`, path.Base(clean)),
		})
	}
}

// streamOpened decrypts a sealed archive line by line. The first line is opened before any
// response is written so a wrong key surfaces as a 500 rather than a truncated body.
func (h *ArchiveHandlers) streamOpened(c *gin.Context, name string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxArchiveLine)

	var first []byte
	if scanner.Scan() {
		line, err := h.cipher.Open(scanner.Bytes())
		if err != nil {
			slog.Error("failed to decrypt archive", "path", name, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to decrypt archive"})
			return
		}
		first = line
	}

	c.Header("Content-Type", "application/x-ndjson")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`,
		strings.TrimSuffix(path.Base(name), crypto.SealedSuffix)))
	c.Status(http.StatusOK)
	if first == nil {
		return
	}
	_, _ = c.Writer.Write(append(first, '\n'))

	for scanner.Scan() {
		line, err := h.cipher.Open(scanner.Bytes())
		if err != nil {
			slog.Error("archive download truncated: bad line", "path", name, "error", err)
			return
		}
		if _, err := c.Writer.Write(append(line, '\n')); err != nil {
			return
		}
	}
	if err := scanner.Err(); err != nil {
		slog.Error("archive download truncated", "path", name, "error", err)
	}
}
