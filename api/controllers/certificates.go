package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/originhash-backend/api/middleware"
	"github.com/angelmondragon/originhash-backend/api/responses"
	"github.com/angelmondragon/originhash-backend/api/validators"
	"github.com/angelmondragon/originhash-backend/internal/certificates"
	"github.com/angelmondragon/originhash-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/originhash-backend/pkg/errors"
	"github.com/angelmondragon/originhash-backend/pkg/logger"
	"github.com/angelmondragon/originhash-backend/pkg/pagination"
)

type issueCertificateRequest struct {
	StudentEmail string  `json:"studentEmail" validate:"required,email"`
	StudentName  string  `json:"studentName" validate:"required,min=2,max=200"`
	CourseName   string  `json:"courseName" validate:"required,min=2,max=200"`
	IssueDate    string  `json:"issueDate" validate:"required"`
	ExpiryDate   *string `json:"expiryDate,omitempty"`
}

type previewCertificateRequest struct {
	StudentName string  `json:"studentName" validate:"required,min=2,max=200"`
	CourseName  string  `json:"courseName" validate:"required,min=2,max=200"`
	IssueDate   string  `json:"issueDate" validate:"required"`
	ExpiryDate  *string `json:"expiryDate,omitempty"`
}

// IssueCertificate renders, stores and records a new certificate.
func IssueCertificate(svc certificates.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "certificate service unavailable"))
			return
		}
		actor, ok := middleware.ActorFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing identity"))
			return
		}

		var body issueCertificateRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		issueDate, expiryDate, err := parseDates(body.IssueDate, body.ExpiryDate)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		detail, err := svc.Issue(r.Context(), actor.UserID, certificates.IssueInput{
			StudentEmail: body.StudentEmail,
			StudentName:  body.StudentName,
			CourseName:   body.CourseName,
			IssueDate:    issueDate,
			ExpiryDate:   expiryDate,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, detail)
	}
}

// PreviewCertificate renders a certificate without persisting it.
func PreviewCertificate(svc certificates.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "certificate service unavailable"))
			return
		}

		format, err := validators.ParseQueryArtifactKind(r, "format", enums.ArtifactKindPNG)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body previewCertificateRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		issueDate, expiryDate, err := parseDates(body.IssueDate, body.ExpiryDate)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		file, err := svc.Preview(r.Context(), certificates.PreviewInput{
			StudentName: body.StudentName,
			CourseName:  body.CourseName,
			IssueDate:   issueDate,
			ExpiryDate:  expiryDate,
			Format:      format,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteFile(w, file.ContentType, file.Filename, file.Data)
	}
}

// ListMyCertificates pages through certificates issued to the caller's email.
func ListMyCertificates(svc certificates.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "certificate service unavailable"))
			return
		}
		actor, ok := middleware.ActorFromContext(r.Context())
		if !ok || actor.Email == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing identity"))
			return
		}
		params, err := pageParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.ListMine(r.Context(), actor.Email, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

func ListCertificates(svc certificates.Service, logg *logger.Logger) http.HandlerFunc {
	return listHandler(logg, svc, func(s certificates.Service) listFunc { return s.ListAll })
}

func ListVerifiedCertificates(svc certificates.Service, logg *logger.Logger) http.HandlerFunc {
	return listHandler(logg, svc, func(s certificates.Service) listFunc { return s.ListVerified })
}

// ListIssuedCertificates pages through the certificates the calling admin issued.
func ListIssuedCertificates(svc certificates.Service, logg *logger.Logger) http.HandlerFunc {
	return issuerListHandler(logg, svc, func(s certificates.Service) issuerListFunc { return s.ListIssued })
}

func ListIssuedVerifiedCertificates(svc certificates.Service, logg *logger.Logger) http.HandlerFunc {
	return issuerListHandler(logg, svc, func(s certificates.Service) issuerListFunc { return s.ListIssuedVerified })
}

// GetCertificateByContentID resolves an IPFS content id to its certificate.
func GetCertificateByContentID(svc certificates.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "certificate service unavailable"))
			return
		}
		detail, err := svc.FindByContentID(r.Context(), chi.URLParam(r, "cid"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, detail)
	}
}

// GetCertificate returns the masked admin detail view.
func GetCertificate(svc certificates.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "certificate service unavailable"))
			return
		}
		detail, err := svc.Get(r.Context(), chi.URLParam(r, "uniqueId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, detail)
	}
}

// DownloadCertificateArtifact streams the stored PNG or PDF to its owner or an issuer.
func DownloadCertificateArtifact(svc certificates.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "certificate service unavailable"))
			return
		}
		actor, ok := middleware.ActorFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing identity"))
			return
		}

		kind, err := validators.ParseQueryArtifactKind(r, "kind", enums.ArtifactKindPDF)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		file, err := svc.Artifact(r.Context(), chi.URLParam(r, "uniqueId"), kind, certificates.Requester{
			UserID: actor.UserID,
			Email:  actor.Email,
			Role:   actor.Role,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteFile(w, file.ContentType, file.Filename, file.Data)
	}
}

type listFunc func(ctx context.Context, params pagination.Params) (pagination.Page[certificates.Summary], error)

func listHandler(logg *logger.Logger, svc certificates.Service, pick func(certificates.Service) listFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "certificate service unavailable"))
			return
		}
		params, err := pageParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := pick(svc)(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

type issuerListFunc func(ctx context.Context, issuerID uuid.UUID, params pagination.Params) (pagination.Page[certificates.Summary], error)

func issuerListHandler(logg *logger.Logger, svc certificates.Service, pick func(certificates.Service) issuerListFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "certificate service unavailable"))
			return
		}
		actor, ok := middleware.ActorFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing identity"))
			return
		}
		params, err := pageParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := pick(svc)(r.Context(), actor.UserID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

func pageParams(r *http.Request) (pagination.Params, error) {
	limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
	if err != nil {
		return pagination.Params{}, err
	}
	cursor, err := validators.ParseQueryCursor(r)
	if err != nil {
		return pagination.Params{}, err
	}
	return pagination.Params{Limit: limit, Cursor: cursor}, nil
}

var dateLayouts = []string{time.RFC3339, "2006-01-02"}

func parseDate(field, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range dateLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, pkgerrors.New(pkgerrors.CodeValidation, field+" must be a date (YYYY-MM-DD or RFC3339)").
		WithDetails(map[string]any{"field": field, "value": value})
}

func parseDates(issue string, expiry *string) (time.Time, *time.Time, error) {
	issueDate, err := parseDate("issueDate", issue)
	if err != nil {
		return time.Time{}, nil, err
	}
	if expiry == nil || strings.TrimSpace(*expiry) == "" {
		return issueDate, nil, nil
	}
	expiryDate, err := parseDate("expiryDate", *expiry)
	if err != nil {
		return time.Time{}, nil, err
	}
	return issueDate, &expiryDate, nil
}
