package storage

// Row types as stored in SQLite. Dates are TEXT in YYYY-MM-DD, instants are
// RFC 3339 TEXT.
type (
	Card struct {
		ID                 int64
		Bank               string
		LastDigits         string
		Nickname           string
		CycleStartDay      int64
		CycleEndDay        int64
		DueDay             int64
		TotalLimitCents    int64
		UsedLimitCents     int64
		EstimateLimitCents int64
		CreatedAt          string
	}

	Category struct {
		ID        int64
		Name      string
		Editable  bool
		Recurring bool
	}

	Invoice struct {
		ID         int64
		CardID     int64
		StartDate  string
		EndDate    string
		DueDate    string
		TotalCents int64
		Status     string
	}

	Purchase struct {
		ID              int64
		CardID          int64
		CategoryID      int64
		Description     string
		ValueCents      int64
		PurchasedAt     string
		HasInstallments bool
	}

	Installment struct {
		ID         int64
		PurchaseID int64
		InvoiceID  int64
		Seq        int64
		TotalCount int64
		ValueCents int64
	}
)
