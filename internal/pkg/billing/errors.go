package billing

// Payme Merchant API error codes. The numeric values are part of the
// external contract and must not change.
const (
	PaymeErrInternalSystem      = -32400
	PaymeErrInsufficientAuth    = -32504
	PaymeErrInvalidJSONRPC      = -32600
	PaymeErrMethodNotFound      = -32601
	PaymeErrInvalidAmount       = -31001
	PaymeErrTransactionNotFound = -31003
	PaymeErrOrderNotFound       = -31005
	PaymeErrInvalidState        = -31007
	PaymeErrCannotPerform       = -31008
	PaymeErrUnknown             = -31050
	PaymeErrAlreadyDone         = -31060
)

// Click response error codes. 0 is success; the negative values follow
// Click's documented vocabulary.
const (
	ClickErrSuccess              = 0
	ClickErrSignCheckFailed      = -1
	ClickErrIncorrectAmount      = -2
	ClickErrActionNotFound       = -3
	ClickErrAlreadyPaid          = -4
	ClickErrOrderNotFound        = -5
	ClickErrTransactionCancelled = -6
	ClickErrPaymentFailed        = -7
	ClickErrUnknown              = -9
)

// LocalizedMessage is the trilingual message object Payme expects in every
// error envelope.
type LocalizedMessage struct {
	Ru string `json:"ru"`
	Uz string `json:"uz"`
	En string `json:"en"`
}

// PaymeError is the error half of a Payme JSON-RPC response.
type PaymeError struct {
	Code    int              `json:"code"`
	Message LocalizedMessage `json:"message"`
	Data    string           `json:"data,omitempty"`
}

// PaymeResponse is the JSON-RPC envelope returned for every Payme call,
// always with HTTP status 200.
type PaymeResponse struct {
	JSONRPC string      `json:"jsonrpc,omitempty"`
	ID      interface{} `json:"id,omitempty"`
	Result  interface{} `json:"result,omitempty"`
	Error   *PaymeError `json:"error,omitempty"`
}

// ClickResponse is the flat object Click expects from both phases.
type ClickResponse struct {
	ClickTransID      int64  `json:"click_trans_id"`
	MerchantTransID   string `json:"merchant_trans_id"`
	MerchantPrepareID string `json:"merchant_prepare_id,omitempty"`
	MerchantConfirmID string `json:"merchant_confirm_id,omitempty"`
	Error             int    `json:"error"`
	ErrorNote         string `json:"error_note"`
}

var paymeErrorMessages = map[int]LocalizedMessage{
	PaymeErrInternalSystem: {
		Ru: "Внутренняя ошибка сервера",
		Uz: "Serverda ichki xatolik",
		En: "Internal server error",
	},
	PaymeErrInsufficientAuth: {
		Ru: "Недостаточно привилегий для выполнения метода",
		Uz: "Metodni bajarish uchun huquq yetarli emas",
		En: "Insufficient privilege to perform method",
	},
	PaymeErrInvalidJSONRPC: {
		Ru: "Невалидный JSON-RPC объект",
		Uz: "JSON-RPC obyekti noto'g'ri",
		En: "Invalid JSON-RPC object",
	},
	PaymeErrMethodNotFound: {
		Ru: "Запрашиваемый метод не найден",
		Uz: "So'ralgan metod topilmadi",
		En: "Method not found",
	},
	PaymeErrInvalidAmount: {
		Ru: "Неверная сумма",
		Uz: "Summa noto'g'ri",
		En: "Invalid amount",
	},
	PaymeErrTransactionNotFound: {
		Ru: "Транзакция не найдена",
		Uz: "Tranzaksiya topilmadi",
		En: "Transaction not found",
	},
	PaymeErrOrderNotFound: {
		Ru: "Заказ не найден",
		Uz: "Buyurtma topilmadi",
		En: "Order not found",
	},
	PaymeErrInvalidState: {
		Ru: "Невозможно выполнить операцию в текущем состоянии",
		Uz: "Joriy holatda amalni bajarib bo'lmaydi",
		En: "Invalid transaction state",
	},
	PaymeErrCannotPerform: {
		Ru: "Невозможно выполнить операцию",
		Uz: "Amalni bajarib bo'lmaydi",
		En: "Could not perform operation",
	},
	PaymeErrUnknown: {
		Ru: "Неизвестная ошибка",
		Uz: "Noma'lum xatolik",
		En: "Unknown error",
	},
	PaymeErrAlreadyDone: {
		Ru: "Заказ уже оплачен",
		Uz: "Buyurtma allaqachon to'langan",
		En: "Order already paid",
	},
}

func paymeSuccess(result interface{}) PaymeResponse {
	return PaymeResponse{Result: result}
}

// paymeError builds an error envelope. data carries the account field name
// for account-related errors, as the Merchant API sandbox expects.
func paymeError(code int, data string) PaymeResponse {
	msg, ok := paymeErrorMessages[code]
	if !ok {
		msg = paymeErrorMessages[PaymeErrUnknown]
	}
	return PaymeResponse{Error: &PaymeError{Code: code, Message: msg, Data: data}}
}

func clickError(clickTransID int64, merchantTransID string, code int, note string) ClickResponse {
	return ClickResponse{
		ClickTransID:    clickTransID,
		MerchantTransID: merchantTransID,
		Error:           code,
		ErrorNote:       note,
	}
}

// paymeCancelReasonText maps Payme's numeric cancel reason to a
// human-readable ledger annotation.
func paymeCancelReasonText(reason int) string {
	switch reason {
	case 1:
		return "Recipient not found"
	case 2:
		return "Debit error in processing"
	case 3:
		return "Execution error"
	case 4:
		return "Transaction timeout"
	case 5:
		return "Refund requested"
	default:
		return "Unknown reason"
	}
}
