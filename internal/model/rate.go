package model

import "strings"

// ContractType 合同类型
type ContractType string

const (
	ContractHire                ContractType = "CH"    // 企业长租（含保养）
	ContractHireNoMaint         ContractType = "CHNM"  // 企业长租（不含保养）
	PersonalContractHire        ContractType = "PCH"   // 个人长租（含保养）
	PersonalContractHireNoMaint ContractType = "PCHNM" // 个人长租（不含保养）
	SalarySacrifice             ContractType = "BSSNL" // 薪资置换
)

// ParseContractType 解析合同类型代码（不区分大小写）
func ParseContractType(s string) (ContractType, bool) {
	ct := ContractType(strings.ToUpper(strings.TrimSpace(s)))
	switch ct {
	case ContractHire, ContractHireNoMaint, PersonalContractHire, PersonalContractHireNoMaint, SalarySacrifice:
		return ct, true
	}
	return "", false
}

// VehicleInfoSource 车辆信息来源
type VehicleInfoSource string

const (
	SourceSheetName   VehicleInfoSource = "sheet_name"
	SourceHeaderCells VehicleInfoSource = "header_cells"
	SourceBoth        VehicleInfoSource = "both"
)

// ExtractedVehicleInfo 从 sheet 名/表头单元格提取的车辆信息
type ExtractedVehicleInfo struct {
	Manufacturer string            `json:"manufacturer,omitempty"`
	Model        string            `json:"model,omitempty"`
	Variant      string            `json:"variant,omitempty"`
	CapCode      string            `json:"capCode,omitempty"`
	CapID        string            `json:"capId,omitempty"`
	QuoteNumber  string            `json:"quoteNumber,omitempty"`
	OTR          *int64            `json:"otr,omitempty"` // 最小货币单位
	Source       VehicleInfoSource `json:"source"`
}

// ParsedRate 统一口径报价（金额均为最小货币单位）
type ParsedRate struct {
	CapCode             string       `json:"capCode,omitempty"`
	CapID               string       `json:"capId,omitempty"`
	Manufacturer        string       `json:"manufacturer"`
	Model               string       `json:"model"`
	Variant             string       `json:"variant,omitempty"`
	Term                int          `json:"term"`
	AnnualMileage       int          `json:"annualMileage"`
	InitialMonths       int          `json:"initialMonths"`
	PaymentProfileLabel string       `json:"paymentProfileLabel"`
	ContractType        ContractType `json:"contractType"`
	MonthlyRental       int64        `json:"monthlyRental"`
	IsMaintained        bool         `json:"isMaintained"`
	OTR                 *int64       `json:"otr,omitempty"`
	P11D                *int64       `json:"p11d,omitempty"`
	CO2                 *int         `json:"co2,omitempty"`
	FuelType            string       `json:"fuelType,omitempty"`
	Transmission        string       `json:"transmission,omitempty"`
	ExcessMileagePence  *int         `json:"excessMileagePence,omitempty"`
	QuoteNumber         string       `json:"quoteNumber,omitempty"`

	// 溯源：1-based 行列号
	SourceSheet string `json:"sourceSheet"`
	SourceRow   int    `json:"sourceRow"`
	SourceCol   int    `json:"sourceCol"`
}
