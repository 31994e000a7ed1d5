package domain

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		name     string
		email    string
		expected bool
	}{
		{"Valid email", "test@example.com", true},
		{"Valid email with subdomain", "user@mail.example.com", true},
		{"Valid email with numbers", "user123@example.com", true},
		{"Valid email with dots", "user.name@example.com", true},
		{"Valid email with plus", "user+tag@example.com", true},
		{"Valid short local part", "ab@example.com", true},
		{"Invalid email - no @", "testexample.com", false},
		{"Invalid email - no domain", "test@", false},
		{"Invalid email - no local part", "@example.com", false},
		{"Invalid email - multiple @", "test@@example.com", false},
		{"Invalid email - empty", "", false},
		{"Invalid email - display name", "Ada <ada@example.com>", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ValidateEmail(tt.email))
		})
	}
}

func TestEmailValidator_Lengths(t *testing.T) {
	v := NewEmailValidator()

	t.Run("本地部分过长", func(t *testing.T) {
		err := v.ValidateEmail(strings.Repeat("a", 65) + "@example.com")
		assert.ErrorIs(t, err, ErrLocalPartTooLong)
	})

	t.Run("整体过长", func(t *testing.T) {
		err := v.ValidateEmail("a@" + strings.Repeat("b", 250) + ".com")
		assert.ErrorIs(t, err, ErrEmailTooLong)
	})
}

func TestTemplate_Validate(t *testing.T) {
	valid := Template{
		Name:       "Newsletter",
		Headline:   "Neuigkeiten",
		GreetingID: "g-1",
		ProjectID:  "p-1",
	}

	t.Run("合法模板", func(t *testing.T) {
		tpl := valid
		assert.NoError(t, tpl.Validate())
	})

	t.Run("名称为空", func(t *testing.T) {
		tpl := valid
		tpl.Name = "   "
		assert.ErrorIs(t, tpl.Validate(), ErrTemplateNameEmpty)
	})

	t.Run("缺少问候语", func(t *testing.T) {
		tpl := valid
		tpl.GreetingID = ""
		assert.ErrorIs(t, tpl.Validate(), ErrGreetingRequired)
	})

	t.Run("缺少项目", func(t *testing.T) {
		tpl := valid
		tpl.ProjectID = ""
		err := tpl.Validate()
		assert.ErrorIs(t, err, ErrMissingProjectID)
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})
}

func TestContact_Variants(t *testing.T) {
	natural := NewNaturalContact("c-1", "Ada", "Lovelace", "ada@example.com")
	natural.Natural.PrefixTitle = "Dr."
	natural.Natural.Gender = GenderFemale
	company := NewCompanyContact("c-2", "Analytical Engines Ltd", "office@engines.example")

	t.Run("自然人展示名", func(t *testing.T) {
		assert.Equal(t, "Dr. Ada Lovelace", natural.DisplayLabel())
		assert.Equal(t, "W", natural.GenderLabel())
		assert.NoError(t, natural.Validate())
	})

	t.Run("公司展示名", func(t *testing.T) {
		assert.Equal(t, "Analytical Engines Ltd", company.DisplayLabel())
		assert.Equal(t, "", company.GenderLabel())
		assert.Equal(t, "office@engines.example", company.GetMailAddress())
		assert.NoError(t, company.Validate())
	})

	t.Run("公司名称缺失", func(t *testing.T) {
		c := NewCompanyContact("c-3", "", "x@example.com")
		assert.True(t, errors.Is(c.Validate(), ErrInvalidArgument))
	})
}

func TestSendJob_IsDue(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	assert.True(t, (&SendJob{}).IsDue(now))
	assert.True(t, (&SendJob{ScheduledAt: &past}).IsDue(now))
	assert.True(t, (&SendJob{ScheduledAt: &now}).IsDue(now))
	assert.False(t, (&SendJob{ScheduledAt: &future}).IsDue(now))
	assert.False(t, (&SendJob{ScheduledAt: &past, SentAt: &past}).IsDue(now))
}

func TestErrorTaxonomy(t *testing.T) {
	assert.ErrorIs(t, ErrAlreadySent, ErrInvalidArgument)
	assert.ErrorIs(t, ErrNoMailsToSend, ErrInvalidArgument)
	assert.ErrorIs(t, ErrTemplateNotFound, ErrNotFound)
	assert.ErrorIs(t, ErrCredentialDecrypt, ErrConfiguration)
	assert.NotErrorIs(t, ErrTemplateNotFound, ErrInvalidArgument)
	assert.Contains(t, InvalidArgument("bad %s", "input").Error(), "bad input")
}
