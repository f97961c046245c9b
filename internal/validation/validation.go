package validation

import (
	"errors"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

func MustRegisterGin(tag string, fn validator.Func) {
	if err := RegisterGin(tag, fn); err != nil {
		panic(err)
	}
}

func Register(v *validator.Validate, tag string, fn validator.Func) error {
	return v.RegisterValidation(tag, fn)
}

func RegisterGin(tag string, fn validator.Func) error {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		return Register(v, tag, fn)
	}
	return errors.New("validator engine is not of type *validator.Validate")
}
