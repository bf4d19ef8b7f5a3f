// Package validator registers the platform's custom request validations
// on gin's binding engine.
package validator

import (
	"regexp"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var orgNumberPattern = regexp.MustCompile(`^[0-9]{9}$`)

// orgNumber validates a Norwegian-style 9-digit organization number.
func orgNumber(fl validator.FieldLevel) bool {
	return orgNumberPattern.MatchString(fl.Field().String())
}

// caseStatus validates the closed set of case statuses.
func caseStatus(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "RECEIVED", "IN_PROGRESS", "COMPLETED":
		return true
	}
	return false
}

// Register installs the custom validations. Call once at startup.
func Register() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return nil
	}
	if err := v.RegisterValidation("orgnr", orgNumber); err != nil {
		return err
	}
	return v.RegisterValidation("case_status", caseStatus)
}
