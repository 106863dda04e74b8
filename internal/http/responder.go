package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/example/facility-booking/internal/application"
	"github.com/example/facility-booking/internal/scheduler"
)

var (
	errBadRequestBody       = errors.New("無効なリクエスト形式です。")
	errInvalidRoomID        = errors.New("無効な会議室 ID です。")
	errInvalidReservationID = errors.New("無効な予約 ID です。")
	errTooManyRequests      = errors.New("リクエストが多すぎます。しばらくしてから再度お試しください。")
	errStorageUnavailable   = errors.New("データベースに接続できません。")
)

type responder struct {
	logger *slog.Logger
}

func newResponder(logger *slog.Logger) responder {
	if logger == nil {
		logger = slog.Default()
	}
	return responder{logger: logger}
}

func (r responder) writeJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	if w == nil {
		return
	}

	if status == http.StatusNoContent || payload == nil {
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		r.loggerFor(ctx).ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (r responder) writeError(ctx context.Context, w http.ResponseWriter, status int, err error) {
	message := localizedStatusMessage(status)
	if err != nil {
		if msg := strings.TrimSpace(err.Error()); msg != "" {
			message = msg
		}
		r.loggerFor(ctx).ErrorContext(ctx, "request failed", "status", status, "error", err)
	}

	r.writeJSON(ctx, w, status, errorResponse{Message: message})
}

func (r responder) handleServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		r.writeError(ctx, w, http.StatusInternalServerError, errors.New("unknown error"))
		return
	}

	var (
		rejected *application.BookingRejectedError
		vErr     *application.ValidationError
	)
	switch {
	case errors.As(err, &rejected):
		status := http.StatusUnprocessableEntity
		if rejected.Reason() == scheduler.ReasonTimeConflict {
			status = http.StatusConflict
		}
		r.writeJSON(ctx, w, status, toRejectionResponse(rejected))
	case errors.As(err, &vErr):
		r.writeJSON(ctx, w, http.StatusUnprocessableEntity, errorResponse{
			Message: "入力内容に誤りがあります。",
			Errors:  localizeValidationErrors(vErr),
		})
	case errors.Is(err, application.ErrNotFound):
		r.writeJSON(ctx, w, http.StatusNotFound, errorResponse{Message: "指定されたリソースが見つかりません。"})
	case errors.Is(err, application.ErrAlreadyExists):
		r.writeJSON(ctx, w, http.StatusConflict, errorResponse{
			ErrorCode: "ALREADY_EXISTS",
			Message:   "同じ名前のリソースが既に登録されています。",
		})
	case errors.Is(err, application.ErrRoomBusy):
		w.Header().Set("Retry-After", "1")
		r.writeJSON(ctx, w, http.StatusServiceUnavailable, errorResponse{
			ErrorCode: "ROOM_BUSY",
			Message:   "会議室の予約処理が混み合っています。しばらくしてから再度お試しください。",
		})
	default:
		r.writeJSON(ctx, w, http.StatusInternalServerError, errorResponse{Message: "サーバー内部でエラーが発生しました。"})
	}
}

func (r responder) loggerFor(ctx context.Context) *slog.Logger {
	if logger := LoggerFromContext(ctx); logger != nil {
		return logger
	}
	return r.logger
}

func localizedStatusMessage(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "リクエスト内容が正しくありません。"
	case http.StatusNotFound:
		return "指定されたリソースが見つかりません。"
	case http.StatusConflict:
		return "要求はリソースの現在の状態と競合しています。"
	case http.StatusUnprocessableEntity:
		return "入力内容に誤りがあります。"
	case http.StatusTooManyRequests:
		return "リクエストが多すぎます。しばらくしてから再度お試しください。"
	case http.StatusServiceUnavailable:
		return "現在サービスを利用できません。"
	default:
		return "サーバー内部でエラーが発生しました。"
	}
}

func localizeValidationErrors(vErr *application.ValidationError) map[string]string {
	if vErr == nil || len(vErr.FieldErrors) == 0 {
		return nil
	}

	translated := make(map[string]string, len(vErr.FieldErrors))
	for field, msg := range vErr.FieldErrors {
		translated[field] = translateValidationMessage(msg)
	}
	return translated
}

func translateValidationMessage(message string) string {
	switch message {
	case "name is required":
		return "会議室名は必須です。"
	case "capacity must be positive":
		return "収容人数は正の整数で指定してください。"
	case "amenity names must not contain commas":
		return "設備名にカンマを含めることはできません。"
	case "capacity is below an active reservation":
		return "収容人数が有効な予約の参加人数を下回ります。"
	case "amenities are required by an active reservation":
		return "有効な予約で必要な設備は削除できません。"
	case "room_id is required":
		return "会議室 ID は必須です。"
	case "title is required":
		return "タイトルは必須です。"
	case "start is required":
		return "開始日時は必須です。"
	case "end is required":
		return "終了日時は必須です。"
	case "end must be after start":
		return "終了日時は開始日時より後である必要があります。"
	case "attendees must not be negative":
		return "参加人数は 0 以上で指定してください。"
	case "specify either rrule or frequency, not both":
		return "繰り返しは rrule と frequency のどちらか一方で指定してください。"
	case "frequency or rrule is required":
		return "繰り返しの頻度または rrule を指定してください。"
	case "series_end is required":
		return "繰り返しの終了日時は必須です。"
	case "to must be after from":
		return "期間の終了は開始より後である必要があります。"
	case "window must not exceed 366 days":
		return "期間は 366 日以内で指定してください。"
	case "must be an RFC 3339 timestamp":
		return "日時は RFC 3339 形式で指定してください。"
	default:
		return message
	}
}

func rejectionMessage(reason scheduler.Reason) string {
	switch reason {
	case scheduler.ReasonInvalidInterval:
		return "終了日時は開始日時より後である必要があります。"
	case scheduler.ReasonInvalidRecurrenceRule:
		return "繰り返し設定が不正です。"
	case scheduler.ReasonCapacityExceeded:
		return "参加人数が会議室の収容人数を超えています。"
	case scheduler.ReasonAmenityUnavailable:
		return "会議室に必要な設備がありません。"
	case scheduler.ReasonTimeConflict:
		return "指定された時間帯は既に予約されています。"
	default:
		return "予約を受け付けられませんでした。"
	}
}

func toRejectionResponse(rejected *application.BookingRejectedError) errorResponse {
	reason := rejected.Reason()
	resp := errorResponse{
		ErrorCode: "BOOKING_" + strings.ToUpper(string(reason)),
		Message:   rejectionMessage(reason),
		Reason:    string(reason),
	}
	if rejected.Rejection != nil {
		resp.Detail = rejected.Rejection.Detail
		resp.MissingAmenities = rejected.Rejection.Missing
	}
	if conflict, ok := rejected.Conflict.Get(); ok {
		dto := toReservationDTO(conflict)
		resp.Conflict = &dto
	}
	return resp
}

type errorResponse struct {
	ErrorCode        string            `json:"error_code,omitempty"`
	Message          string            `json:"message"`
	Errors           map[string]string `json:"errors,omitempty"`
	Reason           string            `json:"reason,omitempty"`
	Detail           string            `json:"detail,omitempty"`
	MissingAmenities []string          `json:"missing_amenities,omitempty"`
	Conflict         *reservationDTO   `json:"conflict,omitempty"`
}
