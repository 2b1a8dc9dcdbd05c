package api

import (
	"errors"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/tus/tusd/v2/pkg/filestore"
	tusd "github.com/tus/tusd/v2/pkg/handler"

	"github.com/xiaoyuanzhu-com/gueridon/bridge"
	"github.com/xiaoyuanzhu-com/gueridon/bridge/models"
	"github.com/xiaoyuanzhu-com/gueridon/config"
	"github.com/xiaoyuanzhu-com/gueridon/deposit"
	"github.com/xiaoyuanzhu-com/gueridon/log"
)

var (
	tusHandler     http.Handler
	tusHandlerOnce sync.Once
)

// InitTUSHandler initializes the resumable upload handler
func InitTUSHandler() (http.Handler, error) {
	var initErr error
	tusHandlerOnce.Do(func() {
		uploadDir := config.Get().UploadsDir()
		if err := os.MkdirAll(uploadDir, 0755); err != nil {
			initErr = err
			return
		}

		store := filestore.New(uploadDir)
		composer := tusd.NewStoreComposer()
		store.UseIn(composer)

		handler, err := tusd.NewHandler(tusd.Config{
			BasePath:                "/upload/tus/",
			StoreComposer:           composer,
			RespectForwardedHeaders: true,
			MaxSize:                 uploadBodyLimit,
		})
		if err != nil {
			initErr = err
			return
		}

		tusHandler = handler
		log.Info().Str("dir", uploadDir).Msg("TUS handler initialized")
	})
	return tusHandler, initErr
}

// TUSHandler handles all TUS protocol requests
func (h *Handlers) TUSHandler(c *gin.Context) {
	handler, err := InitTUSHandler()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize TUS handler")
		RespondInternalError(c, "failed to initialize upload handler")
		return
	}

	// The TUS handler expects paths without the base path prefix. Strip it
	// manually; http.StripPrefix does not play well with Gin's wildcard
	// routes.
	originalPath := c.Request.URL.Path
	c.Request.URL.Path = strings.TrimPrefix(originalPath, "/upload/tus")

	handler.ServeHTTP(c.Writer, c.Request)

	c.Request.URL.Path = originalPath
}

// Upload handles POST /upload and POST /upload/:folder
//
// Multipart parts and raw bodies run through the deposit pipeline into the
// target folder, or into the staging area with ?stage=true.
func (h *Handlers) Upload(c *gin.Context) {
	destDir, folder, ok := h.resolveDepositDir(c)
	if !ok {
		return
	}

	var manifest []deposit.Entry
	var warnings []string

	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		form, err := c.MultipartForm()
		if err != nil {
			h.server.Hub().Record("request:rejected", folder)
			var maxBytesErr *http.MaxBytesError
			if errors.As(err, &maxBytesErr) {
				RespondPayloadTooLarge(c, "upload too large")
				return
			}
			RespondBadRequest(c, "invalid multipart body")
			return
		}

		var files []*multipart.FileHeader
		for _, headers := range form.File {
			files = append(files, headers...)
		}
		if len(files) == 0 {
			RespondBadRequest(c, "no files in upload")
			return
		}

		for _, fh := range files {
			src, err := fh.Open()
			if err != nil {
				warnings = append(warnings, "unreadable part: "+fh.Filename)
				continue
			}
			entries, ws, err := h.server.Deposit().Deposit(c.Request.Context(), destDir, fh.Filename, src)
			src.Close()
			if err != nil {
				warnings = append(warnings, "failed: "+fh.Filename)
				log.Warn().Err(err).Str("filename", fh.Filename).Msg("deposit failed")
				continue
			}
			manifest = append(manifest, entries...)
			warnings = append(warnings, ws...)
		}
	} else {
		filename := c.Query("filename")
		if filename == "" {
			filename = c.Request.Header.Get("X-Filename")
		}
		if filename == "" {
			h.server.Hub().Record("request:rejected", folder)
			RespondBadRequest(c, "filename query parameter is required for raw uploads")
			return
		}

		entries, ws, err := h.server.Deposit().Deposit(c.Request.Context(), destDir, filename, c.Request.Body)
		if err != nil {
			var maxBytesErr *http.MaxBytesError
			if errors.As(err, &maxBytesErr) {
				RespondPayloadTooLarge(c, "upload too large")
				return
			}
			RespondBadRequest(c, "deposit failed")
			return
		}
		manifest = append(manifest, entries...)
		warnings = append(warnings, ws...)
	}

	h.queueDepositNote(folder, manifest)
	respondManifest(c, folder, manifest, warnings)
}

// FinalizeUpload handles POST /upload/finalize
//
// Routes completed TUS uploads through the deposit pipeline and removes
// their staging artifacts.
func (h *Handlers) FinalizeUpload(c *gin.Context) {
	var body struct {
		Uploads []struct {
			UploadID string `json:"uploadId"`
			Filename string `json:"filename"`
		} `json:"uploads"`
		Folder string `json:"folder"`
		Stage  bool   `json:"stage"`
	}
	if !h.bindJSON(c, &body) {
		return
	}
	if len(body.Uploads) == 0 {
		RespondBadRequest(c, "no uploads provided")
		return
	}

	destDir, folder, ok := h.resolveFinalizeDir(c, body.Folder, body.Stage)
	if !ok {
		return
	}

	uploadDir := config.Get().UploadsDir()
	var manifest []deposit.Entry
	var warnings []string

	for _, up := range body.Uploads {
		if up.UploadID == "" || up.Filename == "" {
			warnings = append(warnings, "upload missing uploadId or filename")
			continue
		}

		srcPath := filepath.Join(uploadDir, up.UploadID)
		if _, err := os.Stat(srcPath); err != nil {
			// tusd's filestore names uploads with a .bin suffix
			srcPath += ".bin"
			if _, err := os.Stat(srcPath); err != nil {
				warnings = append(warnings, "upload not found: "+up.UploadID)
				continue
			}
		}

		src, err := os.Open(srcPath)
		if err != nil {
			warnings = append(warnings, "upload unreadable: "+up.UploadID)
			continue
		}
		entries, ws, err := h.server.Deposit().Deposit(c.Request.Context(), destDir, up.Filename, src)
		src.Close()
		if err != nil {
			warnings = append(warnings, "failed: "+up.Filename)
			log.Warn().Err(err).Str("uploadId", up.UploadID).Msg("finalize deposit failed")
			continue
		}
		manifest = append(manifest, entries...)
		warnings = append(warnings, ws...)

		os.Remove(srcPath)
		os.Remove(strings.TrimSuffix(srcPath, ".bin") + ".info")
	}

	h.queueDepositNote(folder, manifest)
	respondManifest(c, folder, manifest, warnings)
}

// resolveDepositDir picks the deposit destination for POST /upload: the
// :folder parameter, a ?folder= query, or the staging area.
func (h *Handlers) resolveDepositDir(c *gin.Context) (destDir, folder string, ok bool) {
	arg := c.Param("folder")
	if arg == "" {
		arg = c.Query("folder")
	}
	if arg != "" {
		f, ok := h.resolveFolderArg(c, arg)
		if !ok {
			return "", "", false
		}
		return f, f, true
	}
	if c.Query("stage") == "true" {
		return config.Get().StagingDir(), "", true
	}
	h.server.Hub().Record("request:rejected", "")
	RespondBadRequest(c, "folder or stage=true is required")
	return "", "", false
}

func (h *Handlers) resolveFinalizeDir(c *gin.Context, folderArg string, stage bool) (destDir, folder string, ok bool) {
	if folderArg != "" {
		f, ok := h.resolveFolderArg(c, folderArg)
		if !ok {
			return "", "", false
		}
		return f, f, true
	}
	if stage {
		return config.Get().StagingDir(), "", true
	}
	h.server.Hub().Record("request:rejected", "")
	RespondBadRequest(c, "folder or stage is required")
	return "", "", false
}

func (h *Handlers) resolveFolderArg(c *gin.Context, arg string) (string, bool) {
	folder, err := bridge.ResolveFolder(arg, config.Get().ScanRoot)
	if err != nil {
		h.server.Hub().Record("request:rejected", "")
		RespondBadRequest(c, "invalid folder")
		return "", false
	}
	return folder, true
}

// queueDepositNote tells a live session's Worker what just landed in its
// folder. No session, no note; a deposit alone never spawns a Worker.
func (h *Handlers) queueDepositNote(folder string, manifest []deposit.Entry) {
	if folder == "" || len(manifest) == 0 {
		return
	}
	sess, found := h.server.Manager().Get(folder)
	if !found {
		return
	}

	names := make([]string, 0, len(manifest))
	for _, e := range manifest {
		if e.Note != "" {
			names = append(names, e.Name+" ("+e.Note+")")
			continue
		}
		names = append(names, e.Name)
	}
	note := bridge.SyntheticPrefix + " files deposited into the project folder: " + strings.Join(names, ", ")
	if _, err := sess.SubmitPrompt(models.Prompt{Text: note}); err != nil {
		log.Warn().Err(err).Str("folder", folder).Msg("failed to queue deposit note")
	}
}

func respondManifest(c *gin.Context, folder string, manifest []deposit.Entry, warnings []string) {
	if manifest == nil {
		manifest = []deposit.Entry{}
	}
	if warnings == nil {
		warnings = []string{}
	}
	c.JSON(http.StatusOK, gin.H{
		"folder":   folder,
		"manifest": manifest,
		"warnings": warnings,
	})
}
