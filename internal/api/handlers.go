package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/healthhub/telehealth-billing/internal/appointment"
	"github.com/healthhub/telehealth-billing/internal/billing"
	"github.com/healthhub/telehealth-billing/internal/organization"
	redisclient "github.com/healthhub/telehealth-billing/internal/redis"
	"github.com/healthhub/telehealth-billing/internal/user"
	"github.com/healthhub/telehealth-billing/internal/wallet"
)

func urlUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+param, param+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func appointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                 a.ID,
		PatientID:          a.PatientID,
		DoctorID:           a.DoctorID,
		TranslatorID:       a.TranslatorID,
		TranslatorRequired: a.TranslatorRequired,
		Status:             string(a.Status),
		PatientJoined:      a.PatientJoined,
		PatientJoinedAt:    a.PatientJoinedAt,
		DoctorJoined:       a.DoctorJoined,
		DoctorJoinedAt:     a.DoctorJoinedAt,
		TranslatorJoined:   a.TranslatorJoined,
		TranslatorJoinedAt: a.TranslatorJoinedAt,
		ScheduledStart:     a.ScheduledStart,
		DurationMinutes:    a.DurationMinutes,
		ConductedAt:        a.ConductedAt,
		CancelledAt:        a.CancelledAt,
		CancellationReason: a.CancellationReason,
	}
}

// Appointments

func createAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}
		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}

		var translatorID *uuid.UUID
		if req.TranslatorID != "" {
			tid, err := uuid.Parse(req.TranslatorID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_translator_id", "translator_id must be a valid UUID")
				return
			}
			translatorID = &tid
		}

		appt, err := svc.Create(r.Context(), appointment.CreateParams{
			PatientID:          patientID,
			DoctorID:           doctorID,
			TranslatorID:       translatorID,
			TranslatorRequired: req.TranslatorRequired,
			ScheduledStart:     req.ScheduledStart,
			DurationMinutes:    req.DurationMinutes,
		})
		if err != nil {
			handleAppointmentError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, appointmentResponse(appt))
	}
}

func getAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := urlUUID(w, r, "id")
		if !ok {
			return
		}

		appt, err := svc.GetByID(r.Context(), id)
		if err != nil {
			handleAppointmentError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, appointmentResponse(appt))
	}
}

func joinAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := urlUUID(w, r, "id")
		if !ok {
			return
		}

		var req JoinRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		participant := appointment.ParticipantType(req.ParticipantType)
		switch participant {
		case appointment.ParticipantPatient, appointment.ParticipantDoctor, appointment.ParticipantTranslator:
		default:
			writeError(w, http.StatusBadRequest, "invalid_participant_type", "participant_type must be patient, doctor or translator")
			return
		}

		result, err := svc.RecordJoin(r.Context(), id, participant)
		if err != nil {
			handleAppointmentError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, JoinResponse{
			Appointment: appointmentResponse(result.Appointment),
			NewlyJoined: result.NewlyJoined,
			JoinEnabled: result.JoinEnabled,
		})
	}
}

func confirmAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := urlUUID(w, r, "id")
		if !ok {
			return
		}

		appt, err := svc.Confirm(r.Context(), id)
		if err != nil {
			handleAppointmentError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, appointmentResponse(appt))
	}
}

func rescheduleAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := urlUUID(w, r, "id")
		if !ok {
			return
		}

		appt, err := svc.RequestReschedule(r.Context(), id)
		if err != nil {
			handleAppointmentError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, appointmentResponse(appt))
	}
}

func cancelAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := urlUUID(w, r, "id")
		if !ok {
			return
		}

		var req CancelRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		appt, err := svc.Cancel(r.Context(), id, req.Reason)
		if err != nil {
			handleAppointmentError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, appointmentResponse(appt))
	}
}

func assignTranslatorHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := urlUUID(w, r, "id")
		if !ok {
			return
		}

		var req AssignTranslatorRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		translatorID, err := uuid.Parse(req.TranslatorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_translator_id", "translator_id must be a valid UUID")
			return
		}

		appt, err := svc.AssignTranslator(r.Context(), id, translatorID)
		if err != nil {
			handleAppointmentError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, appointmentResponse(appt))
	}
}

func handleAppointmentError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrInvalidDuration):
		writeError(w, http.StatusBadRequest, "invalid_duration", err.Error())
	case errors.Is(err, appointment.ErrTranslatorNotRequired),
		errors.Is(err, appointment.ErrTranslatorNotAssigned):
		writeError(w, http.StatusBadRequest, "translator_not_applicable", err.Error())
	case errors.Is(err, appointment.ErrAppointmentTerminal),
		errors.Is(err, appointment.ErrNotJoinable),
		errors.Is(err, appointment.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, organization.ErrNoFunderAvailable):
		writeError(w, http.StatusConflict, "no_funder_available", "no organization can fund this appointment")
	case errors.Is(err, billing.ErrBillingBusy),
		errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "billing_in_progress", "billing is being processed for this appointment, please retry shortly")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

// Billing

func getBillingHandler(svc *billing.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := urlUUID(w, r, "id")
		if !ok {
			return
		}

		rec, err := svc.GetByAppointment(r.Context(), id)
		if err != nil {
			if errors.Is(err, billing.ErrBillingNotFound) {
				writeError(w, http.StatusNotFound, "billing_not_found", err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		writeJSON(w, http.StatusOK, BillingResponse{
			ID:                    rec.ID,
			AppointmentID:         rec.AppointmentID,
			OrganizationID:        rec.OrganizationID,
			DoctorID:              rec.DoctorID,
			TranslatorID:          rec.TranslatorID,
			DoctorFee:             rec.DoctorFee,
			TranslatorFee:         rec.TranslatorFee,
			PlatformFee:           rec.PlatformFee,
			PlatformFeePercentage: rec.PlatformFeePercentage,
			TotalAmount:           rec.TotalAmount,
			Currency:              rec.Currency,
			Status:                string(rec.Status),
			BilledAt:              rec.BilledAt,
		})
	}
}

// Wallets

func walletResponse(wl *wallet.Wallet) WalletResponse {
	return WalletResponse{
		ID:                    wl.ID,
		UserID:                wl.UserID,
		AvailableBalance:      wl.AvailableBalance,
		PendingBalance:        wl.PendingBalance,
		TotalLifetimeEarnings: wl.TotalLifetimeEarnings,
		Currency:              wl.Currency,
	}
}

func getWalletHandler(svc *wallet.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := urlUUID(w, r, "userID")
		if !ok {
			return
		}

		wl, err := svc.GetByUser(r.Context(), userID)
		if err != nil {
			handleWalletError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, walletResponse(wl))
	}
}

func getWalletLedgerHandler(svc *wallet.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := urlUUID(w, r, "userID")
		if !ok {
			return
		}

		entries, err := svc.ListLedger(r.Context(), userID, queryInt(r, "limit", 20), queryInt(r, "offset", 0))
		if err != nil {
			handleWalletError(w, err)
			return
		}

		resp := make([]LedgerEntryResponse, 0, len(entries))
		for _, e := range entries {
			resp = append(resp, LedgerEntryResponse{
				ID:                   e.ID,
				WalletID:             e.WalletID,
				TransactionType:      string(e.TransactionType),
				Amount:               e.Amount,
				BalanceBefore:        e.BalanceBefore,
				BalanceAfter:         e.BalanceAfter,
				BalanceType:          string(e.BalanceType),
				Status:               string(e.Status),
				RelatedAppointmentID: e.RelatedAppointmentID,
				RelatedBillingID:     e.RelatedBillingID,
				RelatedPayoutID:      e.RelatedPayoutID,
				Description:          e.Description,
				AvailableAt:          e.AvailableAt,
				CreatedAt:            e.CreatedAt,
			})
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func createPayoutHandler(svc *wallet.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := urlUUID(w, r, "userID")
		if !ok {
			return
		}

		var req CreatePayoutRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		payout, err := svc.RequestPayout(r.Context(), userID, req.Amount, req.BankDetails)
		if err != nil {
			handleWalletError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, PayoutResponse{
			ID:          payout.ID,
			WalletID:    payout.WalletID,
			Amount:      payout.Amount,
			Currency:    payout.Currency,
			Status:      string(payout.Status),
			RequestedAt: payout.RequestedAt,
		})
	}
}

func handleWalletError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, wallet.ErrWalletNotFound):
		writeError(w, http.StatusNotFound, "wallet_not_found", err.Error())
	case errors.Is(err, wallet.ErrInvalidAmount),
		errors.Is(err, wallet.ErrBelowMinimumPayout):
		writeError(w, http.StatusBadRequest, "invalid_amount", err.Error())
	case errors.Is(err, wallet.ErrInsufficientFunds),
		errors.Is(err, wallet.ErrNegativeBalance):
		writeError(w, http.StatusConflict, "insufficient_funds", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

// Organizations

func getOrganizationHandler(svc *organization.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := urlUUID(w, r, "id")
		if !ok {
			return
		}

		org, err := svc.GetByID(r.Context(), id)
		if err != nil {
			handleOrganizationError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, OrganizationResponse{
			ID:                         org.ID,
			UserID:                     org.UserID,
			Name:                       org.Name,
			CurrentCreditsBalance:      org.CurrentCreditsBalance,
			Currency:                   org.Currency,
			TotalAppointmentsProcessed: org.TotalAppointmentsProcessed,
		})
	}
}

func addCreditsHandler(svc *organization.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := urlUUID(w, r, "id")
		if !ok {
			return
		}

		var req AddCreditsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		tt := organization.CreditTransactionType(req.TransactionType)
		if tt == "" {
			tt = organization.CreditPurchase
		}

		entry, err := svc.AddCredits(r.Context(), id, req.Amount, tt, req.Reference, req.Description, nil)
		if err != nil {
			handleOrganizationError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, creditEntryResponse(entry))
	}
}

func getOrganizationLedgerHandler(svc *organization.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := urlUUID(w, r, "id")
		if !ok {
			return
		}

		entries, err := svc.ListLedger(r.Context(), id, queryInt(r, "limit", 20), queryInt(r, "offset", 0))
		if err != nil {
			handleOrganizationError(w, err)
			return
		}

		resp := make([]CreditEntryResponse, 0, len(entries))
		for i := range entries {
			resp = append(resp, creditEntryResponse(&entries[i]))
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func creditEntryResponse(e *organization.CreditEntry) CreditEntryResponse {
	return CreditEntryResponse{
		ID:                   e.ID,
		OrganizationID:       e.OrganizationID,
		TransactionType:      string(e.TransactionType),
		Amount:               e.Amount,
		BalanceBefore:        e.BalanceBefore,
		BalanceAfter:         e.BalanceAfter,
		Description:          e.Description,
		Reference:            e.Reference,
		RelatedAppointmentID: e.RelatedAppointmentID,
		RelatedBillingID:     e.RelatedBillingID,
		CreatedAt:            e.CreatedAt,
	}
}

func handleOrganizationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, organization.ErrOrganizationNotFound):
		writeError(w, http.StatusNotFound, "organization_not_found", err.Error())
	case errors.Is(err, organization.ErrInvalidAmount),
		errors.Is(err, organization.ErrInvalidTransactionType):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, organization.ErrInsufficientCredits):
		writeError(w, http.StatusConflict, "insufficient_credits", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

// Users and service fees

func createUserHandler(svc *user.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateUserRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		u, err := svc.Provision(r.Context(), user.Role(req.Role), req.Name, req.Email)
		if err != nil {
			handleUserError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, UserResponse{
			ID:    u.ID,
			Role:  string(u.Role),
			Name:  u.Name,
			Email: u.Email,
		})
	}
}

func getUserHandler(svc *user.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := urlUUID(w, r, "id")
		if !ok {
			return
		}

		u, err := svc.GetByID(r.Context(), id)
		if err != nil {
			handleUserError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, UserResponse{
			ID:    u.ID,
			Role:  string(u.Role),
			Name:  u.Name,
			Email: u.Email,
		})
	}
}

func upsertServiceFeeHandler(svc *billing.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := urlUUID(w, r, "id")
		if !ok {
			return
		}

		var req UpsertServiceFeeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		active := true
		if req.Active != nil {
			active = *req.Active
		}

		fee, err := svc.UpsertServiceFee(r.Context(), id, req.DurationMinutes, req.Amount, req.Currency, active)
		if err != nil {
			handleServiceFeeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, serviceFeeResponse(fee))
	}
}

func listServiceFeesHandler(svc *billing.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := urlUUID(w, r, "id")
		if !ok {
			return
		}

		fees, err := svc.ListServiceFees(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		resp := make([]ServiceFeeResponse, 0, len(fees))
		for i := range fees {
			resp = append(resp, serviceFeeResponse(&fees[i]))
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func serviceFeeResponse(f *billing.ServiceFee) ServiceFeeResponse {
	return ServiceFeeResponse{
		ID:              f.ID,
		UserID:          f.UserID,
		DurationMinutes: f.DurationMinutes,
		Amount:          f.Amount,
		Currency:        f.Currency,
		Active:          f.Active,
	}
}

func handleUserError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, user.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "user_not_found", err.Error())
	case errors.Is(err, user.ErrEmailTaken):
		writeError(w, http.StatusConflict, "email_taken", err.Error())
	case errors.Is(err, user.ErrInvalidRole),
		errors.Is(err, user.ErrMissingDetails):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func handleServiceFeeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, billing.ErrInvalidFeeAmount),
		errors.Is(err, billing.ErrInvalidDuration):
		writeError(w, http.StatusBadRequest, "invalid_service_fee", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

// Admin sweeps

func statusSweepHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := svc.StatusSweep(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, SweepResponse{Processed: n})
	}
}

func maturationSweepHandler(svc *wallet.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req MaturationSweepRequest
		if r.Body != nil && r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
				return
			}
		}

		n, err := svc.MaturationSweep(r.Context(), time.Now(), req.ProcessAll)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, SweepResponse{Processed: n})
	}
}
