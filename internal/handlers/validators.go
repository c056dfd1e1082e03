package handlers

import (
	"sync"

	"familyhub/internal/authorizer"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var registerOnce sync.Once

// RegisterValidators adds the gateway's `socket_id` grammar (digits.digits)
// to gin's binding validator.
func RegisterValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = v.RegisterValidation("socket_id", func(fl validator.FieldLevel) bool {
			return authorizer.ValidSocketID(fl.Field().String())
		})
	})
}
