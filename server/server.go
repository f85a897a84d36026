// Package server implements the presigning coordinator: it authorizes devices and brokers
// multipart uploads against the object store without ever receiving payload bytes.
package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/go-chi/render"
	"github.com/meancat/panicstream/api"
)

const maxBodySize = 1 << 20

type subjectKey struct{}

// Server routes the coordinator's HTTP API.
type Server struct {
	auth    *Authenticator
	uploads *UploadService
	logger  log.Logger
	mux     *http.ServeMux
}

// New ...
func New(auth *Authenticator, uploads *UploadService, logger log.Logger) *Server {
	server := &Server{
		auth:    auth,
		uploads: uploads,
		logger:  logger,
		mux:     http.NewServeMux(),
	}

	server.mux.HandleFunc("GET /healthz", server.health)
	server.mux.HandleFunc("POST /api/auth/token", server.issueToken)
	server.mux.Handle("GET /api/upload/presigned", server.requireToken(server.presignChunk))
	server.mux.Handle("POST /api/upload/presign", server.requireToken(server.presignObject))
	server.mux.Handle("GET /api/upload/download", server.requireToken(server.presignDownload))
	server.mux.Handle("POST /api/upload/multipart/start", server.requireToken(server.startMultipart))
	server.mux.Handle("POST /api/upload/multipart/presign", server.requireToken(server.presignPart))
	server.mux.Handle("POST /api/upload/multipart/complete", server.requireToken(server.completeMultipart))
	server.mux.Handle("POST /api/upload/multipart/abort", server.requireToken(server.abortMultipart))

	return server
}

func (server *Server) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	server.mux.ServeHTTP(writer, request)
}

// requireToken rejects requests without a valid bearer token before the handler runs.
func (server *Server) requireToken(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		subject, err := server.auth.Validate(request.Header.Get("Authorization"))
		if err != nil {
			server.logger.Debugf("Rejected %s %s: %s", request.Method, request.URL.Path, err)
			server.fail(writer, request, err)

			return
		}

		next(writer, request.WithContext(context.WithValue(request.Context(), subjectKey{}, subject)))
	})
}

// Subject returns the token subject of an authenticated request.
func Subject(ctx context.Context) string {
	subject, _ := ctx.Value(subjectKey{}).(string)
	return subject
}

func (server *Server) health(writer http.ResponseWriter, request *http.Request) {
	render.JSON(writer, request, api.OKResponse{OK: true})
}

func (server *Server) issueToken(writer http.ResponseWriter, request *http.Request) {
	if err := server.auth.CheckAppKey(request.Header.Get("Authorization")); err != nil {
		server.logger.Warnf("Unauthorized key authentication attempt from %s", request.RemoteAddr)
		server.fail(writer, request, err)

		return
	}

	var jsonReq api.TokenRequest
	if err := decodeOptionalJSON(request, &jsonReq); err != nil {
		server.fail(writer, request, api.NewError("issue token", api.KindBadRequest, err))

		return
	}

	token, err := server.auth.Mint(jsonReq.Username)
	if err != nil {
		server.fail(writer, request, err)

		return
	}

	server.logger.Infof("Issued token for %q", jsonReq.Username)
	render.JSON(writer, request, api.TokenResponse{Token: token})
}

func (server *Server) presignChunk(writer http.ResponseWriter, request *http.Request) {
	grant, err := server.uploads.PresignChunk(request.Context(), request.URL.Query().Get("filename"))
	if err != nil {
		server.fail(writer, request, err)

		return
	}

	render.JSON(writer, request, grant.URL)
}

func (server *Server) presignObject(writer http.ResponseWriter, request *http.Request) {
	var jsonReq api.PresignRequest
	if err := render.DecodeJSON(request.Body, &jsonReq); err != nil {
		server.fail(writer, request, api.NewError("presign object", api.KindBadRequest, err))

		return
	}

	grant, err := server.uploads.PresignObject(request.Context(), jsonReq.Key)
	if err != nil {
		server.fail(writer, request, err)

		return
	}

	render.JSON(writer, request, api.PresignResponse{URL: grant.URL, Headers: grant.Headers})
}

func (server *Server) presignDownload(writer http.ResponseWriter, request *http.Request) {
	url, err := server.uploads.PresignDownload(request.Context(), request.URL.Query().Get("key"))
	if err != nil {
		server.fail(writer, request, err)

		return
	}

	render.JSON(writer, request, api.DownloadResponse{URL: url})
}

func (server *Server) startMultipart(writer http.ResponseWriter, request *http.Request) {
	var jsonReq api.StartMultipartRequest
	if err := render.DecodeJSON(request.Body, &jsonReq); err != nil {
		server.fail(writer, request, api.NewError("start multipart", api.KindBadRequest, err))

		return
	}

	jsonResp, err := server.uploads.StartMultipart(request.Context(), jsonReq.KeyHint)
	if err != nil {
		server.fail(writer, request, err)

		return
	}

	server.logger.Debugf("Multipart upload %s started by %s", jsonResp.UploadID, Subject(request.Context()))
	render.JSON(writer, request, jsonResp)
}

func (server *Server) presignPart(writer http.ResponseWriter, request *http.Request) {
	var jsonReq api.PresignPartRequest
	if err := decodeOptionalJSON(request, &jsonReq); err != nil {
		server.fail(writer, request, api.NewError("presign part", api.KindBadRequest, err))

		return
	}

	if err := mergePartQuery(&jsonReq, request); err != nil {
		server.fail(writer, request, err)

		return
	}

	grant, err := server.uploads.PresignPart(request.Context(), jsonReq)
	if err != nil {
		server.fail(writer, request, err)

		return
	}

	render.JSON(writer, request, grant)
}

// decodeOptionalJSON decodes the request body into v. An empty or whitespace-only body,
// chunked or not, leaves v untouched.
func decodeOptionalJSON(request *http.Request, v interface{}) error {
	body, err := io.ReadAll(io.LimitReader(request.Body, maxBodySize))
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	return render.DecodeJSON(bytes.NewReader(body), v)
}

// mergePartQuery fills parameters missing from the body with the query string ones.
func mergePartQuery(jsonReq *api.PresignPartRequest, request *http.Request) error {
	query := request.URL.Query()

	if jsonReq.UploadID == nil && query.Has("uploadId") {
		uploadID := query.Get("uploadId")
		jsonReq.UploadID = &uploadID
	}
	if jsonReq.ObjectKey == nil && query.Has("objectKey") {
		objectKey := query.Get("objectKey")
		jsonReq.ObjectKey = &objectKey
	}
	if jsonReq.PartNumber == nil && query.Has("partNumber") {
		partNumber, err := strconv.Atoi(query.Get("partNumber"))
		if err != nil {
			return api.NewError("presign part", api.KindBadRequest, errors.New("partNumber must be an integer"))
		}
		jsonReq.PartNumber = &partNumber
	}

	return nil
}

func (server *Server) completeMultipart(writer http.ResponseWriter, request *http.Request) {
	var jsonReq api.CompleteMultipartRequest
	if err := render.DecodeJSON(request.Body, &jsonReq); err != nil {
		server.fail(writer, request, api.NewError("complete multipart", api.KindBadRequest, err))

		return
	}

	if err := server.uploads.CompleteMultipart(request.Context(), jsonReq); err != nil {
		server.fail(writer, request, err)

		return
	}

	render.JSON(writer, request, api.OKResponse{OK: true})
}

func (server *Server) abortMultipart(writer http.ResponseWriter, request *http.Request) {
	var jsonReq api.AbortMultipartRequest
	if err := render.DecodeJSON(request.Body, &jsonReq); err != nil {
		server.logger.Warnf("Abort request could not be decoded: %s", err)
	} else {
		server.uploads.AbortMultipart(request.Context(), jsonReq)
	}

	render.JSON(writer, request, api.OKResponse{OK: true})
}

func (server *Server) fail(writer http.ResponseWriter, request *http.Request, err error) {
	status := api.StatusForKind(api.KindOf(err))
	if status >= http.StatusInternalServerError {
		server.logger.Errorf("%s %s failed: %s", request.Method, request.URL.Path, err)
	}

	message := http.StatusText(status)
	if status == http.StatusBadRequest {
		message = err.Error()
	}

	render.Status(request, status)
	render.JSON(writer, request, api.ErrorResponse{Error: message})
}
