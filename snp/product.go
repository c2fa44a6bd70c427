// Copyright (c) 2021 - 2024 Fraunhofer AISEC
// Fraunhofer-Gesellschaft zur Foerderung der angewandten Forschung e.V.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package snp

// Product code names
const (
	ProductMilan   = "Milan"
	ProductGenoa   = "Genoa"
	ProductTurin   = "Turin"
	ProductUnknown = "Unknown"
)

// Product identifies the CPU that generated a report
type Product struct {
	Name     string `json:"name"`
	Family   uint8  `json:"family"`
	Model    uint8  `json:"model"`
	Stepping uint8  `json:"stepping"`
}

// Version 2 reports do not carry the CPUID fields and are attributed to Genoa
var genoaV2 = Product{
	Name:     ProductGenoa,
	Family:   0x19,
	Model:    0x11,
	Stepping: 0,
}

// GetCodeName returns the EPYC code name for the combined CPUID family and
// model, see https://www.amd.com/content/dam/amd/en/documents/epyc-technical-docs/specifications/57230.pdf
// The combined family is extendedFamily + baseFamily, the combined model is
// (extendedModel << 4) | baseModel.
func GetCodeName(familyId, modelId uint8) string {
	switch familyId {
	case 0x19:
		switch {
		case modelId <= 0xF:
			return ProductMilan
		case modelId >= 0x10 && modelId <= 0x1F:
			return ProductGenoa
		case modelId >= 0xA0 && modelId <= 0xAF:
			// Bergamo and Siena share the Genoa PKI
			return ProductGenoa
		}
	case 0x1A:
		if modelId <= 0x1F {
			return ProductTurin
		}
	}
	return ProductUnknown
}
