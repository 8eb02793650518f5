package http

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"paysched/internal/core"
	"paysched/internal/services"
	"paysched/internal/storage"
)

type modelRow struct {
	ID            int64
	Code          string
	RealName      string
	WorkingName   string
	Status        string
	StartDate     string
	PaymentMethod string
	Frequency     string
	MonthlyAmount string
	MissingWallet bool
}

type modelsView struct {
	Page      pageContext
	Models    []modelRow
	Query     string
	Status    string
	Frequency string
	Method    string
	Error     string
}

// modelFormView carries the raw entered values back into the form so a
// validation failure never loses the user's input.
type modelFormView struct {
	Page          pageContext
	IsEdit        bool
	ID            int64
	Code          string
	RealName      string
	WorkingName   string
	Status        string
	StartDate     string
	PaymentMethod string
	Frequency     string
	MonthlyAmount string
	CryptoWallet  string
	Error         string
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	view := modelsView{
		Page:      s.pageContextFor(r, "models"),
		Query:     sanitizeInput(q.Get("q")),
		Status:    q.Get("status"),
		Frequency: q.Get("frequency"),
		Method:    sanitizeInput(q.Get("method")),
	}

	filter := storage.ModelFilter{Query: view.Query, Method: view.Method}
	if view.Status != "" {
		status, err := core.ParseModelStatus(view.Status)
		if err != nil {
			view.Error = "Unknown status filter."
			view.Status = ""
		} else {
			filter.Status = status
		}
	}
	if view.Frequency != "" {
		freq, err := core.ParseFrequency(view.Frequency)
		if err != nil {
			view.Error = "Unknown frequency filter."
			view.Frequency = ""
		} else {
			filter.Frequency = freq
		}
	}

	models, err := s.storage.ListModels(r.Context(), filter)
	if err != nil {
		slog.ErrorContext(r.Context(), "Model list failed", "error", err)
		http.Error(w, "failed to load models", http.StatusInternalServerError)
		return
	}

	view.Models = make([]modelRow, 0, len(models))
	for _, m := range models {
		view.Models = append(view.Models, s.buildModelRow(m))
	}
	s.render(w, r, "models_page", view)
}

func (s *Server) buildModelRow(m core.Model) modelRow {
	return modelRow{
		ID:            m.ID,
		Code:          m.Code,
		RealName:      m.RealName,
		WorkingName:   m.WorkingName,
		Status:        string(m.Status),
		StartDate:     m.StartDate.ISO(),
		PaymentMethod: m.PaymentMethod,
		Frequency:     string(m.Frequency),
		MonthlyAmount: core.FormatAmount(s.baseCurrency, m.MonthlyAmount),
		MissingWallet: m.UsesCrypto() && m.CryptoWallet == "",
	}
}

func (s *Server) handleModelsExport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="models.csv"`)
	if err := s.exports.WriteModelsCSV(r.Context(), w); err != nil {
		slog.ErrorContext(r.Context(), "Models export failed", "error", err)
	}
}

func (s *Server) handleModelNew(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, "model_form_page", modelFormView{
		Page:      s.pageContextFor(r, "models"),
		Status:    string(core.ModelActive),
		Frequency: string(core.Monthly),
	})
}

func (s *Server) handleModelCreate(w http.ResponseWriter, r *http.Request) {
	if resp := ParseFormOrFail(r); resp != nil {
		resp.Write(w)
		return
	}

	view := s.modelFormFromRequest(r)
	view.Page = s.pageContextFor(r, "models")

	model, errMsg := parseModelForm(r)
	if errMsg == "" {
		if err := model.Validate(); err != nil {
			errMsg = validationMessage(err)
		}
	}
	if errMsg != "" {
		view.Error = errMsg
		s.renderStatus(w, r, http.StatusUnprocessableEntity, "model_form_page", view)
		return
	}

	created, err := s.storage.CreateModel(r.Context(), model)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateCode) {
			view.Error = fmt.Sprintf("Code %s is already taken.", model.Code)
			s.renderStatus(w, r, http.StatusUnprocessableEntity, "model_form_page", view)
			return
		}
		slog.ErrorContext(r.Context(), "Model create failed", "error", err)
		http.Error(w, "failed to save model", http.StatusInternalServerError)
		return
	}

	redirect(w, r, fmt.Sprintf("/models/%d", created.ID))
}

func (s *Server) handleModelDetail(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		http.NotFound(w, r)
		return
	}

	model, err := s.storage.GetModel(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		slog.ErrorContext(r.Context(), "Model load failed", "error", err, "model_id", id)
		http.Error(w, "failed to load model", http.StatusInternalServerError)
		return
	}

	history, err := s.storage.ListPayoutsByModel(r.Context(), id, 12)
	if err != nil {
		slog.ErrorContext(r.Context(), "Payout history load failed", "error", err, "model_id", id)
		http.Error(w, "failed to load payout history", http.StatusInternalServerError)
		return
	}

	type payoutHistoryRow struct {
		PayDate string
		Cycle   string
		RunID   int64
		Amount  string
		Status  string
		Notes   string
	}
	rows := make([]payoutHistoryRow, 0, len(history))
	for _, p := range history {
		rows = append(rows, payoutHistoryRow{
			PayDate: p.PayDate.ISO(),
			RunID:   p.RunID,
			Amount:  core.FormatAmount(s.baseCurrency, p.Amount),
			Status:  p.Status.Label(),
			Notes:   p.Notes,
		})
	}

	s.render(w, r, "model_detail_page", struct {
		Page          pageContext
		Model         modelRow
		CryptoWallet  string
		PayoutHistory []payoutHistoryRow
	}{
		Page:          s.pageContextFor(r, "models"),
		Model:         s.buildModelRow(model),
		CryptoWallet:  model.CryptoWallet,
		PayoutHistory: rows,
	})
}

func (s *Server) handleModelEdit(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		http.NotFound(w, r)
		return
	}

	model, err := s.storage.GetModel(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		slog.ErrorContext(r.Context(), "Model load failed", "error", err, "model_id", id)
		http.Error(w, "failed to load model", http.StatusInternalServerError)
		return
	}

	s.render(w, r, "model_form_page", modelFormView{
		Page:          s.pageContextFor(r, "models"),
		IsEdit:        true,
		ID:            model.ID,
		Code:          model.Code,
		RealName:      model.RealName,
		WorkingName:   model.WorkingName,
		Status:        string(model.Status),
		StartDate:     model.StartDate.ISO(),
		PaymentMethod: model.PaymentMethod,
		Frequency:     string(model.Frequency),
		MonthlyAmount: model.MonthlyAmount.Decimal(),
		CryptoWallet:  model.CryptoWallet,
	})
}

func (s *Server) handleModelUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if resp := ParseFormOrFail(r); resp != nil {
		resp.Write(w)
		return
	}

	view := s.modelFormFromRequest(r)
	view.Page = s.pageContextFor(r, "models")
	view.IsEdit = true
	view.ID = id

	model, errMsg := parseModelForm(r)
	if errMsg == "" {
		if err := model.Validate(); err != nil {
			errMsg = validationMessage(err)
		}
	}
	if errMsg != "" {
		view.Error = errMsg
		s.renderStatus(w, r, http.StatusUnprocessableEntity, "model_form_page", view)
		return
	}

	model.ID = id
	if err := s.storage.UpdateModel(r.Context(), model); err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			http.NotFound(w, r)
		case errors.Is(err, storage.ErrDuplicateCode):
			view.Error = fmt.Sprintf("Code %s is already taken.", model.Code)
			s.renderStatus(w, r, http.StatusUnprocessableEntity, "model_form_page", view)
		default:
			slog.ErrorContext(r.Context(), "Model update failed", "error", err, "model_id", id)
			http.Error(w, "failed to save model", http.StatusInternalServerError)
		}
		return
	}

	redirect(w, r, fmt.Sprintf("/models/%d", id))
}

func (s *Server) handleModelDelete(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		http.NotFound(w, r)
		return
	}

	if err := s.storage.DeleteModel(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		slog.ErrorContext(r.Context(), "Model delete failed", "error", err, "model_id", id)
		http.Error(w, "failed to delete model", http.StatusInternalServerError)
		return
	}

	redirect(w, r, "/models")
}

func (s *Server) handleModelsImport(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(16 << 20); err != nil {
		BadRequestError("Upload too large or malformed.").Write(w)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		BadRequestError("Choose an xlsx file to import.").Write(w)
		return
	}
	defer file.Close()

	opts := services.ImportOptions{
		UpdateExisting: r.FormValue("update_existing") == "on",
		Preview:        r.FormValue("preview") == "on",
	}
	if runID := r.FormValue("run_id"); runID != "" {
		id, err := parseInt64(runID)
		if err != nil {
			UnprocessableEntityError("Run id must be a number.").Write(w)
			return
		}
		opts.RunID = id
	}

	result, err := s.imports.Import(r.Context(), file, opts)
	if err != nil {
		if errors.Is(err, services.ErrNoImportableSheets) {
			UnprocessableEntityError("Workbook has no Models or Payouts sheet.").Write(w)
			return
		}
		slog.ErrorContext(r.Context(), "Import failed", "error", err, "filename", header.Filename)
		UnprocessableEntityError("Import failed: " + err.Error()).Write(w)
		return
	}

	slog.InfoContext(r.Context(), "Workbook imported",
		"filename", header.Filename,
		"models_created", result.ModelsCreated,
		"models_updated", result.ModelsUpdated,
		"models_skipped", result.ModelsSkipped,
		"payouts_imported", result.PayoutsImported,
		"issues", len(result.Issues),
		"preview", opts.Preview)

	type issueLine struct {
		Severity string
		Message  string
	}
	issues := make([]issueLine, 0, len(result.Issues))
	for _, issue := range result.Issues {
		issues = append(issues, issueLine{Severity: string(issue.Severity), Message: issue.Message})
	}

	runCycle := ""
	if result.Run != nil {
		runCycle = result.Run.Cycle()
	}
	s.renderPartial(w, r, "import_report", struct {
		Preview         bool
		ModelsCreated   int
		ModelsUpdated   int
		ModelsSkipped   int
		PayoutsImported int
		RunCycle        string
		Issues          []issueLine
	}{
		Preview:         opts.Preview,
		ModelsCreated:   result.ModelsCreated,
		ModelsUpdated:   result.ModelsUpdated,
		ModelsSkipped:   result.ModelsSkipped,
		PayoutsImported: result.PayoutsImported,
		RunCycle:        runCycle,
		Issues:          issues,
	})
}

func (s *Server) modelFormFromRequest(r *http.Request) modelFormView {
	return modelFormView{
		Code:          sanitizeInput(r.Form.Get("code")),
		RealName:      sanitizeInput(r.Form.Get("real_name")),
		WorkingName:   sanitizeInput(r.Form.Get("working_name")),
		Status:        r.Form.Get("status"),
		StartDate:     sanitizeInput(r.Form.Get("start_date")),
		PaymentMethod: sanitizeInput(r.Form.Get("payment_method")),
		Frequency:     r.Form.Get("frequency"),
		MonthlyAmount: sanitizeInput(r.Form.Get("monthly_amount")),
		CryptoWallet:  sanitizeInput(r.Form.Get("crypto_wallet")),
	}
}

// parseModelForm turns the submitted form into a model, returning a
// user-facing message for the first field that fails.
func parseModelForm(r *http.Request) (core.Model, string) {
	var m core.Model

	m.Code = sanitizeInput(r.Form.Get("code"))
	m.RealName = sanitizeInput(r.Form.Get("real_name"))
	m.WorkingName = sanitizeInput(r.Form.Get("working_name"))
	m.PaymentMethod = sanitizeInput(r.Form.Get("payment_method"))
	m.CryptoWallet = sanitizeInput(r.Form.Get("crypto_wallet"))

	status, err := core.ParseModelStatus(r.Form.Get("status"))
	if err != nil {
		return m, "Pick a status."
	}
	m.Status = status

	freq, err := core.ParseFrequency(r.Form.Get("frequency"))
	if err != nil {
		return m, "Pick a payment frequency."
	}
	m.Frequency = freq

	startDate, err := core.ParseDate(r.Form.Get("start_date"))
	if err != nil {
		return m, "Start date must be YYYY-MM-DD or MM/DD/YYYY."
	}
	m.StartDate = startDate

	cents, err := core.ParseDecimalToCents(r.Form.Get("monthly_amount"))
	if err != nil || cents <= 0 {
		return m, "Monthly amount must be a positive number."
	}
	m.MonthlyAmount = core.Money{Cents: cents}

	return m, ""
}

// validationMessage maps domain validation errors to form-friendly text.
func validationMessage(err error) string {
	switch {
	case errors.Is(err, core.ErrEmptyCode):
		return "Code is required."
	case errors.Is(err, core.ErrEmptyWorkingName):
		return "Working name is required."
	case errors.Is(err, core.ErrEmptyMethod):
		return "Payment method is required."
	case errors.Is(err, core.ErrInvalidAmount):
		return "Monthly amount must be a positive number."
	default:
		return err.Error()
	}
}
