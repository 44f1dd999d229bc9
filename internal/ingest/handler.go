package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/go-chi/chi/v5"

	"github.com/snapfind/snapfind/internal/facerec"
	"github.com/snapfind/snapfind/internal/fetch"
	"github.com/snapfind/snapfind/internal/pipeline"
	"github.com/snapfind/snapfind/internal/source"
	"github.com/snapfind/snapfind/internal/storage"
	"github.com/snapfind/snapfind/internal/transform"
	"github.com/snapfind/snapfind/internal/util"
	"github.com/snapfind/snapfind/pkg/api"
)

var eventIdRegex = regexp.MustCompile(api.EventIdRegex)

// PrecompressThresholdBytes is the direct-upload size above which a file is
// shrunk with the pre-compression spec before entering the pipeline.
const PrecompressThresholdBytes = 8 * 1024 * 1024

// Handler is the interface for the ingest service handlers.
type Handler interface {

	// HandleIngest handles the batch ingestion request.
	HandleIngest(w http.ResponseWriter, r *http.Request)

	// HandleListSources handles the list-only resolution request.
	HandleListSources(w http.ResponseWriter, r *http.Request)

	// HandleReindex handles bulk re-indexing of an event's stored assets.
	HandleReindex(w http.ResponseWriter, r *http.Request)
}

// NewHandler creates a new ingest handler instance, returning a pointer to
// the concrete implementation.
func NewHandler(resolver source.Resolver, orch pipeline.Orchestrator, transformer transform.Transformer, store storage.ObjectStorage, indexer facerec.Indexer) Handler {
	return &ingestHandler{
		resolver:    resolver,
		orch:        orch,
		transformer: transformer,
		store:       store,
		indexer:     indexer,

		logger: slog.Default().
			With(slog.String(util.PackageKey, util.PackageIngest)).
			With(slog.String(util.ComponentKey, util.ComponentIngestHandler)).
			With(slog.String(util.ServiceKey, util.ServiceIngest)),
	}
}

var _ Handler = (*ingestHandler)(nil)

// ingestHandler is a concrete implementation of the Handler interface.
type ingestHandler struct {
	resolver    source.Resolver
	orch        pipeline.Orchestrator
	transformer transform.Transformer
	store       storage.ObjectStorage
	indexer     facerec.Indexer

	logger *slog.Logger
}

// HandleIngest is the concrete implementation of the HandleIngest method.
func (h *ingestHandler) HandleIngest(w http.ResponseWriter, r *http.Request) {

	var cmd api.IngestCmd
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		h.logger.Error(fmt.Sprintf("failed to decode ingest request body: %v", err))
		writeJsonErr(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := cmd.Validate(); err != nil {
		h.logger.Error(fmt.Sprintf("invalid ingest request: %v", err))
		writeJsonErr(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	var items []source.SourceItem
	if cmd.DriveLink != "" {

		resolved, err := h.resolver.Resolve(r.Context(), cmd.DriveLink)
		if err != nil {
			if errors.Is(err, source.ErrInvalidReference) {
				writeJsonErr(w, http.StatusBadRequest, err.Error())
				return
			}
			h.logger.Error(fmt.Sprintf("failed to resolve drive link: %v", err))
			writeJsonErr(w, http.StatusBadGateway, "failed to resolve the drive link")
			return
		}
		items = resolved
	} else {
		items = source.FromLocalFiles(cmd.Files)
		h.precompress(items)
	}

	progress := pipeline.ProgressFunc(func(completed, total int, itemName string) {
		h.logger.Info(fmt.Sprintf("batch progress for event '%s': %d/%d (%s)", cmd.EventId, completed, total, itemName))
	})

	result, err := h.orch.Run(r.Context(), cmd.EventId, items, progress)
	if err != nil {
		h.logger.Error(fmt.Sprintf("batch setup failed for event '%s': %v", cmd.EventId, err))
		writeJsonErr(w, http.StatusInternalServerError, "batch setup failed")
		return
	}

	writeJson(w, http.StatusOK, result)
}

// HandleListSources is the concrete implementation of the HandleListSources
// method, which resolves a link without ingesting anything.
func (h *ingestHandler) HandleListSources(w http.ResponseWriter, r *http.Request) {

	var cmd api.ListSourcesCmd
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		h.logger.Error(fmt.Sprintf("failed to decode list-sources request body: %v", err))
		writeJsonErr(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := cmd.Validate(); err != nil {
		h.logger.Error(fmt.Sprintf("invalid list-sources request: %v", err))
		writeJsonErr(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	items, err := h.resolver.Resolve(r.Context(), cmd.DriveLink)
	if err != nil {
		if errors.Is(err, source.ErrInvalidReference) {
			writeJsonErr(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error(fmt.Sprintf("failed to resolve drive link: %v", err))
		writeJsonErr(w, http.StatusBadGateway, "failed to resolve the drive link")
		return
	}

	refs := make([]api.SourceRef, 0, len(items))
	for i := range items {
		refs = append(refs, items[i].Ref())
	}

	writeJson(w, http.StatusOK, api.SourceList{Total: len(refs), Sources: refs})
}

// HandleReindex is the concrete implementation of the HandleReindex method,
// which re-submits every stored asset of an event for face indexing.
func (h *ingestHandler) HandleReindex(w http.ResponseWriter, r *http.Request) {

	eventId := chi.URLParam(r, "eventId")
	if !eventIdRegex.MatchString(eventId) {
		writeJsonErr(w, http.StatusBadRequest, fmt.Sprintf("invalid event id: %s", eventId))
		return
	}

	keys, err := h.store.ListKeys(r.Context(), storage.ImagePrefix(eventId))
	if err != nil {
		h.logger.Error(fmt.Sprintf("failed to list stored assets for event '%s': %v", eventId, err))
		writeJsonErr(w, http.StatusInternalServerError, "failed to list stored assets")
		return
	}

	result, err := h.indexer.IndexBatch(r.Context(), eventId, keys, func(completed, total int) {
		h.logger.Info(fmt.Sprintf("reindex progress for event '%s': %d/%d", eventId, completed, total))
	})
	if err != nil {
		h.logger.Error(fmt.Sprintf("reindex setup failed for event '%s': %v", eventId, err))
		writeJsonErr(w, http.StatusInternalServerError, "face collection setup failed")
		return
	}

	failed := make([]string, 0, len(result.Failed))
	for _, f := range result.Failed {
		failed = append(failed, f.ObjectKey)
	}

	writeJson(w, http.StatusOK, api.ReindexResult{
		EventId: eventId,
		Indexed: result.Indexed,
		Failed:  failed,
	})
}

// precompress shrinks oversized direct uploads in place with the
// pre-compression spec so the pipeline never holds full-resolution originals.
// A file that fails to shrink is passed through untouched; the pipeline's own
// decode handling owns the failure.
func (h *ingestHandler) precompress(items []source.SourceItem) {

	for i := range items {

		if int64(len(items[i].Data)) <= PrecompressThresholdBytes {
			continue
		}

		result, err := h.transformer.Transform(&fetch.FetchedAsset{
			SourceId:    items[i].Id,
			Bytes:       items[i].Data,
			ContentType: items[i].ContentType,
		}, transform.PrecompressSpec())
		if err != nil {
			h.logger.Warn(fmt.Sprintf("failed to pre-compress oversized upload '%s': %v", items[i].Id, err))
			continue
		}

		h.logger.Info(fmt.Sprintf("pre-compressed upload '%s': %d -> %d bytes", items[i].Id, len(items[i].Data), len(result.Bytes)))

		items[i].Data = result.Bytes
		items[i].ContentType = result.ContentType
	}
}

// writeJson writes a JSON response with the given status code.
func writeJson(w http.ResponseWriter, status int, body any) {

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Default().Error(fmt.Sprintf("failed to encode response body: %v", err))
	}
}

// writeJsonErr writes a JSON error body with the given status code.
func writeJsonErr(w http.ResponseWriter, status int, msg string) {
	writeJson(w, status, map[string]string{"error": msg})
}
