// submissions.go — HTTP handlers приёма и инспекции заявок.
package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	apierrors "github.com/burns238/dms-submission/internal/api/errors"
	"github.com/burns238/dms-submission/internal/api/middleware"
	"github.com/burns238/dms-submission/internal/config"
	"github.com/burns238/dms-submission/internal/domain/model"
	"github.com/burns238/dms-submission/internal/domain/status"
	"github.com/burns238/dms-submission/internal/repository"
	"github.com/burns238/dms-submission/internal/service"
)

// SubmissionsHandler — обработчик endpoints заявок.
type SubmissionsHandler struct {
	svc      SubmissionService
	cfg      *config.Config
	validate *validator.Validate
	logger   *slog.Logger
}

// NewSubmissionsHandler создаёт обработчик endpoints заявок.
func NewSubmissionsHandler(svc SubmissionService, cfg *config.Config, logger *slog.Logger) *SubmissionsHandler {
	v := validator.New()
	// Имена полей в ошибках — из тега form
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return fld.Tag.Get("form")
	})

	return &SubmissionsHandler{
		svc:      svc,
		cfg:      cfg,
		validate: v,
		logger:   logger.With(slog.String("component", "submissions_handler")),
	}
}

// submitForm — сырые значения полей multipart-формы.
// Обязательность строковых полей проверяет validator; callbackUrl,
// store и timeOfReceipt дополнительно разбираются вручную.
type submitForm struct {
	SubmissionReference string `form:"submissionReference" validate:"omitempty"`
	CallbackURL         string `form:"callbackUrl" validate:"required"`
	Store               string `form:"metadata.store" validate:"required"`
	Source              string `form:"metadata.source" validate:"required"`
	TimeOfReceipt       string `form:"metadata.timeOfReceipt" validate:"required"`
	FormID              string `form:"metadata.formId" validate:"required"`
	CustomerID          string `form:"metadata.customerId" validate:"required"`
	SubmissionMark      string `form:"metadata.submissionMark" validate:"required"`
	CasKey              string `form:"metadata.casKey" validate:"required"`
	ClassificationType  string `form:"metadata.classificationType" validate:"required"`
	BusinessArea        string `form:"metadata.businessArea" validate:"required"`
}

// Submit обрабатывает POST /dms-submission/submit.
// Multipart form: поля метаданных + файл form (PDF).
func (h *SubmissionsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	owner := middleware.OwnerFromContext(r.Context())
	if owner == "" {
		apierrors.Unauthorized(w, "Отсутствует аутентифицированный владелец")
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil { // 32 MB буфер
		apierrors.ValidationError(w, fmt.Sprintf("Ошибка парсинга multipart: %s", err.Error()))
		return
	}

	form := submitForm{
		SubmissionReference: strings.TrimSpace(r.FormValue("submissionReference")),
		CallbackURL:         r.FormValue("callbackUrl"),
		Store:               r.FormValue("metadata.store"),
		Source:              r.FormValue("metadata.source"),
		TimeOfReceipt:       r.FormValue("metadata.timeOfReceipt"),
		FormID:              r.FormValue("metadata.formId"),
		CustomerID:          r.FormValue("metadata.customerId"),
		SubmissionMark:      r.FormValue("metadata.submissionMark"),
		CasKey:              r.FormValue("metadata.casKey"),
		ClassificationType:  r.FormValue("metadata.classificationType"),
		BusinessArea:        r.FormValue("metadata.businessArea"),
	}

	req, fieldErrs := h.buildRequest(form)

	// Файловая часть
	file, header, err := r.FormFile("form")
	if err != nil {
		fieldErrs = append(fieldErrs, apierrors.FieldError{Field: "form", Code: "form.required"})
	} else {
		defer file.Close()
		if header.Size > h.cfg.MaxFileSize {
			apierrors.FileTooLarge(w, fmt.Sprintf("Размер файла %d байт превышает максимум %d байт", header.Size, h.cfg.MaxFileSize))
			return
		}
	}

	if len(fieldErrs) > 0 {
		apierrors.WriteFieldErrors(w, fieldErrs)
		return
	}

	result, err := h.svc.Submit(r.Context(), owner, req, file)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrConflict):
			apierrors.Conflict(w, fmt.Sprintf("Заявка %q уже существует", req.SubmissionReference))
		case errors.Is(err, service.ErrTransient):
			apierrors.BadGateway(w, "Временная ошибка внешней зависимости, повторите запрос")
		default:
			h.logger.Error("Ошибка приёма заявки",
				slog.String("owner", owner),
				slog.String("error", err.Error()),
			)
			apierrors.InternalError(w, "Внутренняя ошибка при приёме заявки")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, result)
}

// buildRequest валидирует форму и собирает SubmitRequest.
func (h *SubmissionsHandler) buildRequest(form submitForm) (service.SubmitRequest, []apierrors.FieldError) {
	var fieldErrs []apierrors.FieldError

	// Обязательность строковых полей
	if err := h.validate.Struct(form); err != nil {
		var vErrs validator.ValidationErrors
		if errors.As(err, &vErrs) {
			for _, fe := range vErrs {
				fieldErrs = append(fieldErrs, apierrors.FieldError{
					Field: fe.Field(),
					Code:  fe.Field() + "." + fe.Tag(),
				})
			}
		}
	}

	req := service.SubmitRequest{
		SubmissionReference: form.SubmissionReference,
		CallbackURL:         form.CallbackURL,
	}

	// callbackUrl: абсолютный URL с доверенным хостом
	if form.CallbackURL != "" {
		if fe := h.validateCallbackURL(form.CallbackURL); fe != nil {
			fieldErrs = append(fieldErrs, *fe)
		}
	}

	meta := model.SubmissionMetadata{
		Source:             form.Source,
		FormID:             form.FormID,
		CustomerID:         form.CustomerID,
		SubmissionMark:     form.SubmissionMark,
		CasKey:             form.CasKey,
		ClassificationType: form.ClassificationType,
		BusinessArea:       form.BusinessArea,
	}

	if form.Store != "" {
		store, err := strconv.ParseBool(form.Store)
		if err != nil {
			fieldErrs = append(fieldErrs, apierrors.FieldError{Field: "metadata.store", Code: "metadata.store.invalid"})
		} else {
			meta.Store = store
		}
	}

	if form.TimeOfReceipt != "" {
		receipt, err := parseTimeOfReceipt(form.TimeOfReceipt)
		if err != nil {
			fieldErrs = append(fieldErrs, apierrors.FieldError{Field: "metadata.timeOfReceipt", Code: "metadata.timeOfReceipt.invalid"})
		} else {
			meta.TimeOfReceipt = receipt
		}
	}

	req.Metadata = meta
	return req, fieldErrs
}

// validateCallbackURL проверяет callbackUrl: абсолютный http(s) URL,
// хост в зоне .mdtp либо localhost (если разрешено конфигурацией).
func (h *SubmissionsHandler) validateCallbackURL(raw string) *apierrors.FieldError {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return &apierrors.FieldError{Field: "callbackUrl", Code: "callbackUrl.invalid"}
	}

	host := u.Hostname()
	if strings.HasSuffix(host, ".mdtp") {
		return nil
	}
	if h.cfg.AllowLocalhostCallbacks && host == "localhost" {
		return nil
	}
	return &apierrors.FieldError{Field: "callbackUrl", Code: "callbackUrl.invalidHost"}
}

// parseTimeOfReceipt разбирает ISO-8601 метку времени получения:
// с зоной (RFC3339, наносекунды допустимы) или без зоны (UTC).
func parseTimeOfReceipt(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02T15:04:05.999999999", s)
}

// GetSubmission обрабатывает GET /dms-submission/submissions/{id}.
func (h *SubmissionsHandler) GetSubmission(w http.ResponseWriter, r *http.Request) {
	owner := middleware.OwnerFromContext(r.Context())
	id := chi.URLParam(r, "id")

	item, err := h.svc.Get(r.Context(), owner, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			apierrors.NotFound(w, fmt.Sprintf("Заявка %q не найдена", id))
			return
		}
		h.logger.Error("Ошибка получения заявки", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Внутренняя ошибка при получении заявки")
		return
	}

	writeJSON(w, http.StatusOK, domainToAPISubmission(item))
}

// submissionListResponse — ответ списка заявок с пагинацией.
type submissionListResponse struct {
	Items  []apiSubmission `json:"items"`
	Total  int             `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

// ListSubmissions обрабатывает GET /dms-submission/submissions.
// Пагинация: limit, offset. Фильтры: status, created-before.
func (h *SubmissionsHandler) ListSubmissions(w http.ResponseWriter, r *http.Request) {
	owner := middleware.OwnerFromContext(r.Context())

	limit := 50
	offset := 0
	var filters repository.ListFilters

	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			apierrors.ValidationError(w, "Параметр limit должен быть от 1 до 1000")
			return
		}
		limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			apierrors.ValidationError(w, "Параметр offset не может быть отрицательным")
			return
		}
		offset = n
	}
	if v := r.URL.Query().Get("status"); v != "" {
		st := status.Status(v)
		if !status.IsValid(st) {
			apierrors.ValidationError(w, fmt.Sprintf("Недопустимый статус: %s", v))
			return
		}
		filters.Status = &st
	}
	if v := r.URL.Query().Get("created-before"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			apierrors.ValidationError(w, "Параметр created-before должен быть в формате RFC3339")
			return
		}
		filters.CreatedBefore = &t
	}

	items, total, err := h.svc.List(r.Context(), owner, filters, limit, offset)
	if err != nil {
		h.logger.Error("Ошибка получения списка заявок", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Внутренняя ошибка при получении списка заявок")
		return
	}

	apiItems := make([]apiSubmission, 0, len(items))
	for _, item := range items {
		apiItems = append(apiItems, domainToAPISubmission(item))
	}

	writeJSON(w, http.StatusOK, submissionListResponse{
		Items:  apiItems,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}
