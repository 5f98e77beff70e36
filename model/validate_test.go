package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kvdex-go/kvdex/model"
)

func TestRequired(t *testing.T) {
	assert.NoError(t, model.Required("name", "Ada"))
	assert.Error(t, model.Required("name", "   "))
	assert.Error(t, model.Required("name", ""))
}

func TestInRange(t *testing.T) {
	assert.NoError(t, model.InRange("age", 30, 0, 120))
	assert.NoError(t, model.InRange("age", 0, 0, 120))
	assert.NoError(t, model.InRange("age", 120, 0, 120))
	assert.Error(t, model.InRange("age", -1, 0, 120))
	assert.Error(t, model.InRange("age", 121, 0, 120))
}

func TestMaxLen(t *testing.T) {
	assert.NoError(t, model.MaxLen("bio", "short", 10))
	assert.Error(t, model.MaxLen("bio", "this is much too long", 10))
}

func TestOneOf(t *testing.T) {
	assert.NoError(t, model.OneOf("status", "active", "active", "inactive"))
	assert.Error(t, model.OneOf("status", "bogus", "active", "inactive"))
}

type signupModel struct{ model.Base[signup] }

type signup struct {
	Name string
	Age  int
}

func (signupModel) Validate(s signup) error {
	if err := model.Required("name", s.Name); err != nil {
		return err
	}
	return model.InRange("age", s.Age, 0, 150)
}

func TestComposedModelValidate(t *testing.T) {
	m := signupModel{}
	assert.NoError(t, m.Validate(signup{Name: "Ada", Age: 30}))
	assert.Error(t, m.Validate(signup{Name: "", Age: 30}))
	assert.Error(t, m.Validate(signup{Name: "Ada", Age: 200}))
	assert.Equal(t, signup{Name: "Ada", Age: 30}, m.Transform(signup{Name: "Ada", Age: 30}), "Base.Transform must be a no-op")
}

func TestFromValidator(t *testing.T) {
	m := model.FromValidator(func(s signup) error {
		return model.Required("name", s.Name)
	})
	assert.NoError(t, m.Validate(signup{Name: "Ada"}))
	assert.Error(t, m.Validate(signup{Name: ""}))
}

func TestAlwaysAcceptsEverything(t *testing.T) {
	var m model.Always[signup]
	assert.NoError(t, m.Validate(signup{}))
}
