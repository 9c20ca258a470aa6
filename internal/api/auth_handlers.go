package api

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"apiforge/internal/apierr"
	"apiforge/internal/pipeline"
	"apiforge/internal/validation"
)

// tokenSchema is the body of a development token request
var tokenSchema = validation.NewSchema(map[string]validation.Rule{
	"subject": {Type: validation.TypeString, Required: true, Min: validation.Bound(1), Max: validation.Bound(128)},
	"role": {
		Type: validation.TypeString,
		Max:  validation.Bound(64),
	},
})

// tokenHandler signs a token for any subject. It is only registered when
// the server is not hardened.
func (s *Server) tokenHandler(_ context.Context, rc pipeline.RequestContext) (pipeline.Response, error) {
	body := rc.Body()
	subject, _ := body["subject"].(string)
	role, _ := body["role"].(string)
	if role == "" {
		role = "user"
	}

	token, expires, err := s.deps.Issuer.Issue(subject, role)
	if err != nil {
		return pipeline.Response{}, apierr.Internal(err)
	}

	s.deps.Log.Debug("issued development token", zap.String("subject", subject), zap.String("role", role))
	return pipeline.JSON(http.StatusCreated, map[string]any{
		"data": map[string]any{
			"token":     token,
			"tokenType": "Bearer",
			"expiresAt": expires.UTC().Format(time.RFC3339),
			"subject":   subject,
			"role":      role,
		},
	}), nil
}

// whoamiHandler echoes the authenticated identity
func (s *Server) whoamiHandler(_ context.Context, rc pipeline.RequestContext) (pipeline.Response, error) {
	id := rc.Identity()
	return pipeline.JSON(http.StatusOK, map[string]any{
		"data": map[string]any{
			"subject":  id.SubjectID,
			"role":     id.Role,
			"strategy": id.Strategy,
		},
	}), nil
}

// revokeKeyHandler disables an API key. Requests already authenticated with
// it finish normally.
func (s *Server) revokeKeyHandler(ctx context.Context, rc pipeline.RequestContext) (pipeline.Response, error) {
	id := rc.Param("id")
	if err := s.deps.Keys.Revoke(ctx, id); err != nil {
		return pipeline.Response{}, err
	}

	s.deps.Log.Info("api key revoked", zap.String("key", id), zap.String("by", rc.Identity().SubjectID))
	return pipeline.JSON(http.StatusOK, map[string]any{
		"data": map[string]any{"id": id, "revoked": true},
		"meta": map[string]string{"message": "API key " + id + " revoked"},
	}), nil
}
