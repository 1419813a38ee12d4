package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

type (
	// CardForm carries the input for registering a card.
	CardForm struct {
		Bank       string `validate:"required,max=60"`
		LastDigits string `validate:"required,len=4,numeric"`
		Nickname   string `validate:"max=60"`
		Billing    BillingConfig
		TotalLimit Money
	}

	// PurchaseForm carries the input for creating or updating a purchase.
	// A zero PurchasedAt means "now".
	PurchaseForm struct {
		CardID            int64
		Description       string `validate:"max=200"`
		Value             Money
		TotalInstallments int
		CategoryName      string `validate:"max=100"`
		PurchasedAt       time.Time
	}
)

var (
	validate   = validator.New(validator.WithRequiredStructEnabled())
	translator = newTranslator(validate)
)

func newTranslator(v *validator.Validate) ut.Translator {
	eng := en.New()
	uni := ut.New(eng, eng)
	trans, found := uni.GetTranslator("en")
	if !found {
		panic("core: english translator not registered")
	}
	if err := en_translations.RegisterDefaultTranslations(v, trans); err != nil {
		panic(fmt.Sprintf("core: register validation translations: %v", err))
	}
	return trans
}

// validateStruct runs the struct tags and folds failures into one
// ErrInvalidArgument with readable messages.
func validateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, e.Translate(translator))
	}
	return fmt.Errorf("%w: %s", ErrInvalidArgument, strings.Join(msgs, ", "))
}

func (f CardForm) Validate() error {
	if err := validateStruct(f); err != nil {
		return err
	}
	if err := f.Billing.Validate(); err != nil {
		return err
	}
	return f.TotalLimit.Validate()
}

func (f PurchaseForm) Validate() error {
	if err := f.Value.Validate(); err != nil {
		return err
	}
	if f.TotalInstallments < 1 {
		return ErrInvalidInstallments
	}
	if strings.TrimSpace(f.CategoryName) == "" {
		return ErrEmptyCategory
	}
	return validateStruct(f)
}
