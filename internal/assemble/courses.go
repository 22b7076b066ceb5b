package assemble

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// CourseList is the document read by one-shot mode.
type CourseList struct {
	Courses []CourseEntry `yaml:"courses" validate:"required,min=1,max=30,dive"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ParseCourses decodes and validates a YAML course list.
func ParseCourses(data []byte) ([]CourseEntry, error) {
	var list CourseList
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse courses: %w", err)
	}
	if err := validate.Struct(&list); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, fmt.Errorf("courses: %s failed %q", verrs[0].Namespace(), verrs[0].Tag())
		}
		return nil, fmt.Errorf("courses: %w", err)
	}
	return list.Courses, nil
}
