package security

import (
	"strings"
)

// autoReplySubjects 自动回复、退信与系统提醒邮件的主题特征（区分大小写）
var autoReplySubjects = []string{
	"wuI", "wrmpbx",
	// 退信 / 投递失败
	"Undeliverable",
	"Delivery Status Notification (Failure)",
	"Delivery Status Notification (Delay)",
	"Mail delivery failed",
	"couldn't be delivered",
	"permanent fatal errors",
	"Delivery Failure",
	"Delivery has failed",
	"Undelivered Mail",
	"Mail Delivery Failure",
	"Unzustellbar",
	"Entrega retrasada",
	"Delivery delayed",
	"communication failure",
	"Postmaster",
	"Kan ikke leveres",
	"Nelivrabil",
	"Kézbesíthetetlen",
	"Olevererbart",
	"permanent error",
	"Delivery Failed",
	"Returned mail",
	"Email Delivery Failure",
	"Mail Delivery",
	"could not be delivered",
	"wasn’t delivered",
	"Non recapitabile",
	"Échec de la remise",
	"Zerospam",
	"This e-mail account doesn't exist",
	// 自动回复 / 休假
	"Automatic Reply",
	"Out of office",
	"Respuesta automática",
	"Automatisch antwoord",
	"Auto Svar",
	"Automaattinen vastaus",
	"Automatisk sva",
	"Autosvar",
	"Jag är på semester",
	"fuori dall'ufficio",
	"assente dall'ufficio",
	"Risposta automatica",
	"Réponse automatique",
	"Automatikus válasz",
	"Abwesenheitsnotiz",
	"Automatische Antwort",
	"Out of the office",
	// 账户安全提醒
	"Your Google Account is disabled",
	"New device signed in to",
	"attempt was blocked",
	"Security alert",
}

// ContentFilter 内容过滤器
type ContentFilter struct {
	// 自动生成邮件的主题特征
	autoReplySubjects []string
}

// NewContentFilter 创建内容过滤器
func NewContentFilter() *ContentFilter {
	subjects := make([]string, len(autoReplySubjects))
	copy(subjects, autoReplySubjects)
	return &ContentFilter{autoReplySubjects: subjects}
}

// NewContentFilterWithSubjects 使用自定义主题特征创建过滤器
func NewContentFilterWithSubjects(subjects []string) *ContentFilter {
	filtered := make([]string, 0, len(subjects))
	for _, s := range subjects {
		if s != "" {
			filtered = append(filtered, s)
		}
	}
	return &ContentFilter{autoReplySubjects: filtered}
}

// IsAutoGenerated 判断主题是否属于自动生成的邮件，返回命中的特征
func (cf *ContentFilter) IsAutoGenerated(subject string) (bool, string) {
	for _, marker := range cf.autoReplySubjects {
		if strings.Contains(subject, marker) {
			return true, marker
		}
	}
	return false, ""
}

// Subjects 返回当前使用的主题特征
func (cf *ContentFilter) Subjects() []string {
	out := make([]string, len(cf.autoReplySubjects))
	copy(out, cf.autoReplySubjects)
	return out
}
