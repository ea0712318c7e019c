package agents

import (
	"fmt"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
)

var validate = validator.New()

// Decode раскладывает вход агента в типизированную структуру:
// значения по умолчанию из тегов default, затем map → struct по json тегам
// (с приведением типов: "10" → 10), затем проверка тегов validate.
func Decode(input map[string]any, target any) error {
	if err := defaults.Set(target); err != nil {
		return fmt.Errorf("%w: defaults: %v", ErrInvalidInput, err)
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		TagName:          "json",
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return fmt.Errorf("create decoder: %w", err)
	}

	if err := decoder.Decode(input); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	if err := validate.Struct(target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	return nil
}
