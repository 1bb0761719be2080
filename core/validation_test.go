package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidator_Registration(t *testing.T) {
	v := NewValidator()
	require.NoError(t, v.Validate(validRegistration()))

	cases := []struct {
		name   string
		mutate func(*RegistrationInput)
		field  string
		msg    string
	}{
		{"bad email", func(in *RegistrationInput) { in.Email = "jean" }, "email", "Email doit être une adresse valide"},
		{"short password", func(in *RegistrationInput) { in.Password, in.PasswordConfirm = "abc", "abc" }, "password", "Mot de passe doit contenir au moins 6 caractères"},
		{"mismatch", func(in *RegistrationInput) { in.PasswordConfirm = "secret2" }, "passwordconfirm", "Les mots de passe ne correspondent pas"},
		{"farmer needs a farm", func(in *RegistrationInput) { in.Role = RoleFarmer }, "farmname", "Nom de la ferme est requis"},
		{"delivery needs a company", func(in *RegistrationInput) { in.Role = RoleDelivery }, "companyname", "Nom de l'entreprise est requis"},
		{"admin cannot self-register", func(in *RegistrationInput) { in.Role = RoleAdmin }, "role", "Type de compte doit être l'un de: farmer customer buyer delivery"},
		{"bad phone", func(in *RegistrationInput) { in.Phone = "12" }, "phone", "Téléphone n'est pas un numéro valide"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := validRegistration()
			tc.mutate(&in)
			err := v.Validate(in)
			var verr ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.Equal(t, tc.msg, verr.Fields[tc.field])
			assert.Contains(t, verr.Error(), tc.msg)
		})
	}
}

func TestValidator_FarmerWithFarmIsValid(t *testing.T) {
	in := validRegistration()
	in.Role, in.FarmName, in.Phone = RoleFarmer, "Ferme du Centre", "671234567"
	assert.NoError(t, NewValidator().Validate(in))
}

func TestValidator_ErrorListsFieldsInOrder(t *testing.T) {
	err := NewValidator().Validate(RegistrationInput{Role: RoleCustomer})
	var verr ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "Prénom est requis; Nom est requis; Email est requis; Mot de passe est requis; Confirmation du mot de passe est requis", verr.Error())
}

func TestValidator_ProductAndOrder(t *testing.T) {
	v := NewValidator()
	ok := ProductInput{Name: "Mil", Description: "Sac de 50kg", Price: "12500.50", Stock: 3, CategoryID: 1}
	assert.NoError(t, v.Validate(ok))

	for _, price := range []string{"0", "-4", "abc", ""} {
		in := ok
		in.Price = price
		assert.Error(t, v.Validate(in), price)
	}

	assert.NoError(t, v.Validate(OrderInput{ShippingAddress: "Bafoussam", PaymentMethod: "mtn_money"}))
	assert.Error(t, v.Validate(OrderInput{ShippingAddress: "Bafoussam", PaymentMethod: "cash"}))
	assert.Error(t, v.Validate(OrderInput{}))
}

func TestNormalizePhone(t *testing.T) {
	assert.Equal(t, "+237671234567", normalizePhone("671234567"))
	assert.Equal(t, "+237671234567", normalizePhone("+237 6 71 23 45 67"))
	assert.Equal(t, "12", normalizePhone("12"))
	assert.Equal(t, "", normalizePhone(""))
}

func TestFieldProblem(t *testing.T) {
	err := fieldProblem("images", "Image trop volumineuse")
	assert.Equal(t, "Image trop volumineuse", err.Error())
	assert.Equal(t, KindValidation, Classify(err).Kind)
}
