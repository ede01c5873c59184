package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/cloudoperators/greenhouse-mirror/internal/k8s_client"
	"github.com/cloudoperators/greenhouse-mirror/internal/manifest"
	"github.com/cloudoperators/greenhouse-mirror/internal/mirror"
	"github.com/cloudoperators/greenhouse-mirror/internal/selection"
	apperrors "github.com/cloudoperators/greenhouse-mirror/pkg/errors"
	"github.com/cloudoperators/greenhouse-mirror/pkg/logger"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Kind   string `json:"kind"`
	Code   string `json:"code"`
	Href   string `json:"href"`
	Reason string `json:"reason"`
}

// SelectionResponse is the JSON body of the selection routes.
type SelectionResponse struct {
	Key     string                   `json:"key"`
	Pending bool                     `json:"pending"`
	Items   []map[string]interface{} `json:"items"`
	Error   string                   `json:"error,omitempty"`
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*mirror.Mirror, bool) {
	kind := r.PathValue("kind")
	m, ok := s.mirrors.Mirror(kind)
	if !ok {
		writeError(w, apperrors.UnknownKind("no mirror for %q", kind))
		return nil, false
	}
	return m, true
}

func (s *Server) listHandler(w http.ResponseWriter, r *http.Request) {
	m, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, m.Current().Objects())
}

func (s *Server) getHandler(w http.ResponseWriter, r *http.Request) {
	m, ok := s.lookup(w, r)
	if !ok {
		return
	}
	name := r.PathValue("name")
	res, found := m.Get(name)
	if !found {
		writeError(w, apperrors.NotFound("%s %q not found", m.Name(), name))
		return
	}
	writeJSON(w, http.StatusOK, res.Object)
}

func (s *Server) createHandler(w http.ResponseWriter, r *http.Request) {
	obj, ok := s.decodeObject(w, r, "")
	if !ok {
		return
	}
	s.writeResult(w, s.writer.Create(s.writeCtx(r, obj.GetName()), obj))
}

func (s *Server) updateHandler(w http.ResponseWriter, r *http.Request) {
	obj, ok := s.decodeObject(w, r, r.PathValue("name"))
	if !ok {
		return
	}
	s.writeResult(w, s.writer.Update(s.writeCtx(r, obj.GetName()), obj))
}

func (s *Server) deleteHandler(w http.ResponseWriter, r *http.Request) {
	info, ok := s.writableKind(w, r)
	if !ok {
		return
	}
	name := r.PathValue("name")
	namespace := r.URL.Query().Get("namespace")
	if namespace == "" {
		namespace = s.namespace
	}
	s.writeResult(w, s.writer.Delete(s.writeCtx(r, name), info.gvk, namespace, name))
}

func (s *Server) writeCtx(r *http.Request, name string) context.Context {
	ctx := logger.WithWatch(r.Context(), r.PathValue("kind"))
	return logger.WithResourceName(ctx, name)
}

func (s *Server) writableKind(w http.ResponseWriter, r *http.Request) (kindInfo, bool) {
	kind := r.PathValue("kind")
	info, ok := s.kinds[kind]
	if !ok {
		writeError(w, apperrors.UnknownKind("no mirror for %q", kind))
		return kindInfo{}, false
	}
	return info, true
}

// decodeObject reads the manifest of a write. pathName is the name from
// the route, empty for creates.
func (s *Server) decodeObject(w http.ResponseWriter, r *http.Request, pathName string) (*unstructured.Unstructured, bool) {
	info, ok := s.writableKind(w, r)
	if !ok {
		return nil, false
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, apperrors.BodyTooLarge("body exceeds %d bytes", tooLarge.Limit))
			return nil, false
		}
		writeError(w, apperrors.BadRequest("failed to read body: %v", err))
		return nil, false
	}
	obj, err := manifest.Parse(body, manifest.Target{GVK: info.gvk, Name: pathName, Namespace: s.namespace})
	if err != nil {
		svcErr, ok := apperrors.AsServiceError(err)
		if !ok {
			svcErr = apperrors.BadRequest("%v", err)
		}
		writeError(w, svcErr)
		return nil, false
	}
	return obj, true
}

// writeResult answers 200 for accepted writes and 422 for rejected ones,
// always with the {ok, message} body.
func (s *Server) writeResult(w http.ResponseWriter, res k8s_client.WriteResult) {
	status := http.StatusOK
	if !res.OK {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, res)
}

func (s *Server) selectHandler(w http.ResponseWriter, r *http.Request) {
	res, err := s.selector.Select(r.Context(), r.PathValue("name"))
	switch {
	case errors.Is(err, selection.ErrSuperseded):
		writeError(w, apperrors.Conflict("selection %q superseded", res.Key))
	case res.Pending:
		writeJSON(w, http.StatusAccepted, selectionResponse(res))
	case err != nil:
		writeJSON(w, http.StatusBadGateway, selectionResponse(res))
	default:
		writeJSON(w, http.StatusOK, selectionResponse(res))
	}
}

func (s *Server) selectionHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, selectionResponse(s.selector.Snapshot()))
}

func selectionResponse(res selection.Result) SelectionResponse {
	out := SelectionResponse{
		Key:     res.Key,
		Pending: res.Pending,
		Items:   res.Items.Objects(),
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err *apperrors.ServiceError) {
	writeJSON(w, err.HttpCode, ErrorResponse{
		Kind:   "Error",
		Code:   *apperrors.CodeStr(err.Code),
		Href:   *apperrors.Href(err.Code),
		Reason: err.Reason,
	})
}
