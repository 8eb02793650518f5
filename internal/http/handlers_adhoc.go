package http

import (
	"errors"
	"log/slog"
	"net/http"

	"paysched/internal/core"
	"paysched/internal/storage"
)

type adhocRow struct {
	ID          int64
	ModelCode   string
	Description string
	PayDate     string
	Amount      string
	Status      string
	StatusValue string
	Created     string
}

type adhocFormView struct {
	Page        pageContext
	ModelCode   string
	Description string
	PayDate     string
	Amount      string
	Status      string
	Error       string
}

func (s *Server) handleAdhoc(w http.ResponseWriter, r *http.Request) {
	statusParam := r.URL.Query().Get("status")
	var filter core.PayoutStatus
	if statusParam != "" {
		status, err := core.ParsePayoutStatus(statusParam)
		if err != nil {
			statusParam = ""
		} else {
			filter = status
		}
	}

	payments, err := s.storage.ListAdhocPayments(r.Context(), filter)
	if err != nil {
		slog.ErrorContext(r.Context(), "Adhoc list failed", "error", err)
		http.Error(w, "failed to load ad-hoc payments", http.StatusInternalServerError)
		return
	}

	var total int64
	rows := make([]adhocRow, 0, len(payments))
	for _, p := range payments {
		total += p.Amount.Cents
		rows = append(rows, adhocRow{
			ID:          p.ID,
			ModelCode:   p.ModelCode,
			Description: p.Description,
			PayDate:     p.PayDate.ISO(),
			Amount:      core.FormatAmount(s.baseCurrency, p.Amount),
			Status:      p.Status.Label(),
			StatusValue: string(p.Status),
			Created:     p.CreatedAt.Format("2006-01-02 15:04"),
		})
	}

	s.render(w, r, "adhoc_page", struct {
		Page     pageContext
		Payments []adhocRow
		Status   string
		Total    string
	}{
		Page:     s.pageContextFor(r, "adhoc"),
		Payments: rows,
		Status:   statusParam,
		Total:    core.FormatAmount(s.baseCurrency, core.Money{Cents: total}),
	})
}

func (s *Server) handleAdhocNew(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, "adhoc_form_page", adhocFormView{
		Page:   s.pageContextFor(r, "adhoc"),
		Status: string(core.PayoutNotPaid),
	})
}

func (s *Server) handleAdhocCreate(w http.ResponseWriter, r *http.Request) {
	if resp := ParseFormOrFail(r); resp != nil {
		resp.Write(w)
		return
	}

	view := adhocFormView{
		Page:        s.pageContextFor(r, "adhoc"),
		ModelCode:   sanitizeInput(r.Form.Get("model_code")),
		Description: sanitizeInput(r.Form.Get("description")),
		PayDate:     sanitizeInput(r.Form.Get("pay_date")),
		Amount:      sanitizeInput(r.Form.Get("amount")),
		Status:      r.Form.Get("status"),
	}

	payment, errMsg := s.parseAdhocForm(r, view)
	if errMsg != "" {
		view.Error = errMsg
		s.renderStatus(w, r, http.StatusUnprocessableEntity, "adhoc_form_page", view)
		return
	}

	created, err := s.storage.CreateAdhocPayment(r.Context(), payment)
	if err != nil {
		slog.ErrorContext(r.Context(), "Adhoc create failed", "error", err)
		http.Error(w, "failed to save payment", http.StatusInternalServerError)
		return
	}

	slog.InfoContext(r.Context(), "Adhoc payment created",
		"id", created.ID,
		"model_code", created.ModelCode,
		"amount_cents", created.Amount.Cents)

	redirect(w, r, "/adhoc")
}

func (s *Server) parseAdhocForm(r *http.Request, view adhocFormView) (core.AdhocPayment, string) {
	var p core.AdhocPayment
	p.Description = view.Description

	payDate, err := core.ParseDate(view.PayDate)
	if err != nil {
		return p, "Pay date must be YYYY-MM-DD or MM/DD/YYYY."
	}
	p.PayDate = payDate

	cents, err := core.ParseDecimalToCents(view.Amount)
	if err != nil || cents <= 0 {
		return p, "Amount must be a positive number."
	}
	p.Amount = core.Money{Cents: cents}

	status, err := core.ParsePayoutStatus(view.Status)
	if err != nil {
		return p, "Pick a status."
	}
	p.Status = status

	// Model code is optional; when set it must resolve to a payee so the
	// payment links back to them.
	if view.ModelCode != "" {
		model, err := s.storage.GetModelByCode(r.Context(), view.ModelCode)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return p, "No model with code " + view.ModelCode + "."
			}
			return p, "Could not look up model " + view.ModelCode + "."
		}
		p.ModelID = model.ID
		p.ModelCode = model.Code
	}

	if err := p.Validate(); err != nil {
		return p, err.Error()
	}
	return p, ""
}

func (s *Server) handleAdhocStatus(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if resp := ParseFormOrFail(r); resp != nil {
		resp.Write(w)
		return
	}

	status, err := core.ParsePayoutStatus(r.Form.Get("status"))
	if err != nil {
		UnprocessableEntityError("Unknown payout status.").Write(w)
		return
	}

	if err := s.storage.UpdateAdhocStatus(r.Context(), id, status); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		slog.ErrorContext(r.Context(), "Adhoc status update failed", "error", err, "id", id)
		http.Error(w, "failed to update payment", http.StatusInternalServerError)
		return
	}

	if isHXRequest(r) {
		NewHXResponse().
			TriggerAdhocChanged().
			TriggerSuccessNotification("Payment marked " + status.Label() + ".").
			Write(w)
		return
	}
	http.Redirect(w, r, "/adhoc", http.StatusSeeOther)
}

func (s *Server) handleAdhocDelete(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		http.NotFound(w, r)
		return
	}

	if err := s.storage.DeleteAdhocPayment(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		slog.ErrorContext(r.Context(), "Adhoc delete failed", "error", err, "id", id)
		http.Error(w, "failed to delete payment", http.StatusInternalServerError)
		return
	}

	redirect(w, r, "/adhoc")
}
