package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContentFilter_IsAutoGenerated(t *testing.T) {
	cf := NewContentFilter()

	tests := []struct {
		name     string
		subject  string
		expected bool
		marker   string
	}{
		{"休假自动回复", "Out of office", true, "Out of office"},
		{"主题中包含特征", "Re: Out of office until Monday", true, "Out of office"},
		{"退信", "Undeliverable: Invoice #42", true, "Undeliverable"},
		{"德语自动回复", "Automatische Antwort: Termin", true, "Automatische Antwort"},
		{"安全提醒", "Security alert for your account", true, "Security alert"},
		{"大小写敏感", "out of office", false, ""},
		{"普通邮件", "Hello", false, ""},
		{"空主题", "", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matched, marker := cf.IsAutoGenerated(tt.subject)
			assert.Equal(t, tt.expected, matched)
			if tt.expected {
				assert.Equal(t, tt.marker, marker)
			}
		})
	}
}

func TestContentFilter_CustomSubjects(t *testing.T) {
	cf := NewContentFilterWithSubjects([]string{"", "Ticket closed"})

	matched, _ := cf.IsAutoGenerated("Ticket closed #9")
	assert.True(t, matched)

	matched, _ = cf.IsAutoGenerated("Anything")
	assert.False(t, matched, "空特征不应匹配任何主题")
	assert.Equal(t, []string{"Ticket closed"}, cf.Subjects())
}
