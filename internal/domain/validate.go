package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var namespaceIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("nsid", func(fl validator.FieldLevel) bool {
		return namespaceIDPattern.MatchString(fl.Field().String())
	})
	return v
}

// ValidateNamespace checks the id (nsid tag: 1-64 of [a-zA-Z0-9_-]) and
// configuration of ns.
func ValidateNamespace(ns Namespace) error {
	if err := validate.Struct(ns); err != nil {
		return describe(err)
	}
	return nil
}

// ValidateConfig checks a knowledge base configuration.
func ValidateConfig(cfg KnowledgeBaseConfig) error {
	if err := validate.Struct(cfg); err != nil {
		return describe(err)
	}
	return nil
}

// ValidateModel checks an embedding model descriptor.
func ValidateModel(m EmbeddingModel) error {
	if err := validate.Struct(m); err != nil {
		return describe(err)
	}
	return nil
}

// ValidateChunking checks per-document chunk overrides.
func ValidateChunking(size, overlap int) error {
	if size <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return fmt.Errorf("chunk overlap must be in [0, %d), got %d", size, overlap)
	}
	return nil
}

func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s fails %s=%s (got %v)", fe.Namespace(), fe.Tag(), fe.Param(), fe.Value()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s fails %s (got %v)", fe.Namespace(), fe.Tag(), fe.Value()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}

// ValidateStruct runs the shared validator, including the nsid tag, over
// any tagged struct.
func ValidateStruct(v any) error {
	if err := validate.Struct(v); err != nil {
		return describe(err)
	}
	return nil
}
