package domain

import (
	"regexp"
	"strings"
)

// 校验错误文案
const (
	MsgBlank                = "can't be blank"
	MsgInvalid              = "is invalid"
	MsgNotIncluded          = "is not included in the list"
	MsgMustBeChosen         = "must be chosen"
	MsgTaken                = "has already been taken"
	MsgDomainNotVerified    = "has not been verified yet"
	MsgReturnPathExists     = "A return path route already exists for this server"
	MsgReturnPathHTTPOnly   = "Return path routes must point to an HTTP endpoint"
	MsgAdditionalNotAllowed = "Additional routes are not permitted unless the primary route is an actual endpoint"
)

// 路由名称：小写字母数字、'-'、'.'，或通配符，或退信保留名
var routeNameRegex = regexp.MustCompile(`^(([a-z0-9\-\.]*)|(\*)|(__returnpath__))$`)

// ValidRouteName 判断路由名称格式
func ValidRouteName(name string) bool {
	return routeNameRegex.MatchString(name)
}

// NameConflictMessage 名称冲突时的错误文案
func NameConflictMessage(serverPermalink string) string {
	return "is configured on the " + serverPermalink + " mail server"
}

// ValidateRouteFields 只依赖路由自身字段的校验，收集全部错误。
//
// 需要查询目录或路由表的规则（域名归属、名称唯一、目标解析）由服务层补充。
func ValidateRouteFields(r *Route, secondaryCount int) ValidationErrors {
	var errs ValidationErrors

	if strings.TrimSpace(r.Name) == "" {
		errs.Add("name", MsgBlank)
	} else if !ValidRouteName(r.Name) {
		errs.Add("name", MsgInvalid)
	}

	if !r.SpamMode.Valid() {
		errs.Add("spam_mode", MsgNotIncluded)
	}

	switch {
	case r.Mode == "":
		errs.Add("endpoint", MsgMustBeChosen)
	case !r.Mode.Valid():
		errs.Add("mode", MsgNotIncluded)
	}

	if !r.IsReturnPath() && (r.DomainID == nil || *r.DomainID == "") {
		errs.Add("domain_id", MsgBlank)
	}

	if r.IsReturnPath() && (r.Mode != RouteModeEndpoint || r.EndpointKind != EndpointKindHTTP) {
		errs.Add(FieldBase, MsgReturnPathHTTPOnly)
	}

	if r.Mode != RouteModeEndpoint && secondaryCount > 0 {
		errs.Add(FieldBase, MsgAdditionalNotAllowed)
	}

	return errs
}

// SplitAddress 将邮箱地址拆分为本地部分与域名（均转小写）
func SplitAddress(address string) (localPart, domainName string, ok bool) {
	address = strings.ToLower(strings.TrimSpace(address))
	at := strings.LastIndex(address, "@")
	if at <= 0 || at == len(address)-1 {
		return "", "", false
	}
	return address[:at], address[at+1:], true
}
