package api

import (
	"bytes"
	"errors"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/timedline/internal/blob"
	"github.com/starford/timedline/internal/objstore"
)

const maxUploadBytes = 50 << 20 // 50 MB

// AttachmentHandler serves attachment bytes: in-memory blob references
// from the local driver and stored objects from the filesystem object
// store behind the remote driver.
type AttachmentHandler struct {
	blobs         *blob.Registry
	objects       *objstore.FS
	publicObjects bool
}

// NewAttachmentHandler creates a handler. blobs and objects may be nil.
func NewAttachmentHandler(blobs *blob.Registry, objects *objstore.FS, publicObjects bool) *AttachmentHandler {
	return &AttachmentHandler{blobs: blobs, objects: objects, publicObjects: publicObjects}
}

// Mount registers the file routes on r. They sit outside the API token
// guard: blob ids are unguessable and object URLs are signed.
func (h *AttachmentHandler) Mount(r chi.Router) {
	if h.blobs != nil {
		r.Get(blob.URLPrefix+"{id}", h.ServeBlob)
	}
	if h.objects != nil {
		r.Get(objstore.SignedPrefix+"*", h.ServeSigned)
		if h.publicObjects {
			r.Get(objstore.PublicPrefix+"*", h.ServePublic)
		}
	}
}

// ServeBlob handles GET /blob/{id}.
func (h *AttachmentHandler) ServeBlob(w http.ResponseWriter, r *http.Request) {
	obj, err := h.blobs.Lookup(chi.URLParam(r, "id"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if obj.MimeType != "" {
		w.Header().Set("Content-Type", obj.MimeType)
	}
	setFileHeaders(w, obj.Name, obj.MimeType)
	http.ServeContent(w, r, obj.Name, obj.Created, bytes.NewReader(obj.Data))
}

// ServeSigned handles GET /objects/signed/*?token=...
func (h *AttachmentHandler) ServeSigned(w http.ResponseWriter, r *http.Request) {
	key, ok := objectKey(r)
	if !ok {
		http.Error(w, "invalid object key", http.StatusBadRequest)
		return
	}
	if err := h.objects.Verify(key, r.URL.Query().Get("token")); err != nil {
		http.Error(w, "invalid or expired link", http.StatusForbidden)
		return
	}
	h.serveObject(w, r, key)
}

// ServePublic handles GET /objects/public/* for public buckets.
func (h *AttachmentHandler) ServePublic(w http.ResponseWriter, r *http.Request) {
	key, ok := objectKey(r)
	if !ok {
		http.Error(w, "invalid object key", http.StatusBadRequest)
		return
	}
	h.serveObject(w, r, key)
}

func (h *AttachmentHandler) serveObject(w http.ResponseWriter, r *http.Request, key string) {
	f, err := h.objects.Open(key)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			http.NotFound(w, r)
			return
		}
		slog.Error("open object failed", slog.String("key", key), slog.String("error", err.Error()))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	name := path.Base(key)
	setFileHeaders(w, name, mime.TypeByExtension(path.Ext(name)))
	http.ServeContent(w, r, name, st.ModTime(), f)
}

// objectKey extracts the object key from the wildcard segment.
func objectKey(r *http.Request) (string, bool) {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	key, err := url.PathUnescape(raw)
	if err != nil || key == "" {
		return "", false
	}
	return key, true
}

// fileCSP keeps uploaded files from running script on the API origin.
const fileCSP = "default-src 'none'; img-src 'self'; media-src 'self'; style-src 'unsafe-inline'; sandbox"

// activeTypes render as documents that can run script; they are always
// downloaded instead of shown inline.
var activeTypes = map[string]bool{
	"text/html":              true,
	"application/xhtml+xml":  true,
	"image/svg+xml":          true,
	"text/xml":               true,
	"application/xml":        true,
	"text/javascript":        true,
	"application/javascript": true,
}

func setFileHeaders(w http.ResponseWriter, name, contentType string) {
	h := w.Header()
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Content-Security-Policy", fileCSP)

	disposition := "inline"
	if mt, _, err := mime.ParseMediaType(contentType); err == nil && activeTypes[mt] {
		disposition = "attachment"
	}
	params := map[string]string{}
	if name != "" {
		params["filename"] = name
	}
	h.Set("Content-Disposition", mime.FormatMediaType(disposition, params))
}
