package core

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/nyaruka/phonenumbers"
)

// defaultPhoneRegion is used for numbers written without a country code.
const defaultPhoneRegion = "CM"

// RegistrationInput is what the register form collects.
type RegistrationInput struct {
	FirstName       string `form:"first_name" validate:"required"`
	LastName        string `form:"last_name" validate:"required"`
	Email           string `form:"email" validate:"required,email"`
	Password        string `form:"password" validate:"required,min=6"`
	PasswordConfirm string `form:"password_confirm" validate:"required,eqfield=Password"`
	Phone           string `form:"phone" validate:"omitempty,phone"`
	Address         string `form:"address"`
	Role            string `form:"user_type" validate:"required,oneof=farmer customer buyer delivery"`
	FarmName        string `form:"farm_name" validate:"required_if=Role farmer"`
	CompanyName     string `form:"company_name" validate:"required_if=Role delivery"`
}

// payload is the Django registration body: username mirrors email and
// password_confirm mirrors password.
func (in RegistrationInput) payload() map[string]string {
	return map[string]string{
		"username":         in.Email,
		"email":            in.Email,
		"password":         in.Password,
		"password_confirm": in.Password,
		"first_name":       in.FirstName,
		"last_name":        in.LastName,
		"user_type":        NormalizeRole(in.Role),
		"phone_number":     normalizePhone(in.Phone),
		"address":          in.Address,
		"farm_name":        in.FarmName,
		"company_name":     in.CompanyName,
	}
}

// ValidationError lists human-readable field problems found before any network call.
type ValidationError struct {
	Fields map[string]string
	order  []string
}

func (e ValidationError) Error() string {
	msgs := make([]string, 0, len(e.order))
	for _, f := range e.order {
		msgs = append(msgs, e.Fields[f])
	}
	return strings.Join(msgs, "; ")
}

// fieldProblem reports a single field error found outside the struct rules.
func fieldProblem(field, msg string) ValidationError {
	return ValidationError{Fields: map[string]string{field: msg}, order: []string{field}}
}

// Validator wraps go-playground/validator with marketplace rules.
type Validator struct {
	v *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New()
	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return validPhone(fl.Field().String())
	})
	_ = v.RegisterValidation("decimal_gt0", func(fl validator.FieldLevel) bool {
		f, err := strconv.ParseFloat(strings.TrimSpace(fl.Field().String()), 64)
		return err == nil && f > 0
	})
	return &Validator{v: v}
}

// Validate returns a ValidationError when s breaks a rule.
func (val *Validator) Validate(s any) error {
	err := val.v.Struct(s)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err
	}
	out := ValidationError{Fields: map[string]string{}}
	for _, fe := range ve {
		key := strings.ToLower(fe.Field())
		if _, seen := out.Fields[key]; seen {
			continue
		}
		out.Fields[key] = fieldError(fe)
		out.order = append(out.order, key)
	}
	return out
}

var fieldLabels = map[string]string{
	"FirstName":       "Prénom",
	"LastName":        "Nom",
	"Email":           "Email",
	"Password":        "Mot de passe",
	"PasswordConfirm": "Confirmation du mot de passe",
	"FarmName":        "Nom de la ferme",
	"CompanyName":     "Nom de l'entreprise",
	"Phone":           "Téléphone",
	"Role":            "Type de compte",
	"Name":            "Nom du produit",
	"Description":     "Description",
	"Price":           "Prix",
	"Stock":           "Quantité",
	"CategoryID":      "Catégorie",
	"ShippingAddress": "Adresse de livraison",
	"PaymentMethod":   "Moyen de paiement",
}

func fieldError(fe validator.FieldError) string {
	label := firstNonEmpty(fieldLabels[fe.Field()], fe.Field())
	switch fe.Tag() {
	case "required", "required_if":
		return label + " est requis"
	case "eqfield":
		return "Les mots de passe ne correspondent pas"
	case "email":
		return label + " doit être une adresse valide"
	case "min":
		return fmt.Sprintf("%s doit contenir au moins %s caractères", label, fe.Param())
	case "gt", "decimal_gt0":
		return label + " doit être supérieur à 0"
	case "phone":
		return label + " n'est pas un numéro valide"
	case "oneof":
		return fmt.Sprintf("%s doit être l'un de: %s", label, fe.Param())
	default:
		return fmt.Sprintf("%s est invalide (%s)", label, fe.Tag())
	}
}

func validPhone(raw string) bool {
	num, err := phonenumbers.Parse(raw, defaultPhoneRegion)
	if err != nil {
		return false
	}
	return phonenumbers.IsValidNumber(num)
}

// normalizePhone formats a valid number as E.164 and leaves anything else untouched.
func normalizePhone(raw string) string {
	num, err := phonenumbers.Parse(raw, defaultPhoneRegion)
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return raw
	}
	return phonenumbers.Format(num, phonenumbers.E164)
}
