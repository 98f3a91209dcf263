package expand

// Keyword banks and substitution tables for banking-domain query
// expansion. All matching is substring-based on the normalized query.
// Tables are ordered slices so expansion output is deterministic.

// chineseNumerals maps Chinese numerals to Arabic digits. Substitution
// runs in both directions.
var chineseNumerals = []struct{ han, digit string }{
	{"一", "1"}, {"二", "2"}, {"三", "3"}, {"四", "4"}, {"五", "5"},
	{"六", "6"}, {"七", "7"}, {"八", "8"}, {"九", "9"}, {"十", "10"},
}

// bankingAbbreviations maps common abbreviations to their full forms.
// Substitution runs in both directions.
var bankingAbbreviations = []struct {
	abbr  string
	forms []string
}{
	{"房贷", []string{"住房贷款", "按揭贷款", "房屋贷款", "个人住房贷款"}},
	{"车贷", []string{"汽车贷款", "车辆贷款", "个人汽车贷款"}},
	{"网银", []string{"网上银行", "在线银行", "网络银行"}},
	{"手机银行", []string{"移动银行", "手机端", "APP银行"}},
	{"信用卡", []string{"贷记卡", "透支卡"}},
	{"储蓄卡", []string{"借记卡", "存款卡"}},
	{"ATM", []string{"自动取款机", "取款机", "现金机"}},
	{"POS", []string{"刷卡机", "收银机", "终端机"}},
}

// queryTypeBanks drive classification. First bank containing a keyword
// present in the query wins; order matters.
var queryTypeBanks = []struct {
	qtype    QueryType
	keywords []string
}{
	{QueryTypeProduct, []string{"房贷", "车贷", "信用卡", "储蓄", "理财", "基金", "保险", "贷款"}},
	{QueryTypeService, []string{"转账", "汇款", "查询", "开户", "销户", "挂失", "解冻", "激活"}},
	{QueryTypeProcedure, []string{"如何", "怎么", "流程", "步骤", "手续", "材料", "条件"}},
}

// termBank is an ordered trigger-keyword to expansion-terms table.
type termBank []struct {
	trigger string
	terms   []string
}

// productTerms expand product queries by trigger keyword.
var productTerms = termBank{
	{"贷款", []string{"个人贷款", "企业贷款", "消费贷", "经营贷", "抵押贷", "信用贷"}},
	{"理财", []string{"理财产品", "投资理财", "财富管理", "资产配置", "定期理财", "活期理财"}},
	{"保险", []string{"人寿保险", "意外保险", "健康保险", "财产保险", "车险", "家财险"}},
}

// serviceTerms expand service queries by trigger keyword.
var serviceTerms = termBank{
	{"转账", []string{"汇款", "转钱", "付款", "跨行转账", "同行转账", "实时转账"}},
	{"查询", []string{"余额查询", "明细查询", "交易查询", "账单查询", "积分查询"}},
}

// conceptTerms add semantically related vocabulary regardless of the
// query type.
var conceptTerms = termBank{
	{"投资", []string{"收益", "风险", "回报", "收益率", "投资组合", "资产配置"}},
	{"安全", []string{"保障", "风控", "防护", "安全性", "可靠", "稳定"}},
}
