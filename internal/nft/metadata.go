// Package nft 生成 OpenSea 风格的元数据，铸造本身在链上完成。
package nft

import (
	"fmt"
	"math"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"basebox-backend/internal/capsule"
	"basebox-backend/internal/common"
)

const (
	defaultArtwork       = "/images/capsule-nft.png"
	sellerFeeBasisPoints = 250
)

type Attribute struct {
	TraitType   string      `json:"trait_type"`
	Value       interface{} `json:"value"`
	DisplayType string      `json:"display_type,omitempty"`
}

type Metadata struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Image       string      `json:"image"`
	ExternalURL string      `json:"external_url"`
	Attributes  []Attribute `json:"attributes"`
}

type ContractMetadata struct {
	Name                 string `json:"name"`
	Description          string `json:"description"`
	Image                string `json:"image"`
	ExternalLink         string `json:"external_link"`
	SellerFeeBasisPoints int    `json:"seller_fee_basis_points"`
	FeeRecipient         string `json:"fee_recipient,omitempty"`
	Contract             string `json:"contract,omitempty"`
	ChainID              uint64 `json:"chain_id"`
}

type Builder struct {
	appURL  string
	appName string
	chain   common.ChainConfig
}

func NewBuilder(app common.AppConfig, chain common.ChainConfig) *Builder {
	name := app.Name
	if name == "" {
		name = common.AppName
	}
	return &Builder{appURL: app.BaseURL, appName: name, chain: chain}
}

// Capsule 锁定中的胶囊不生成元数据
func (b *Builder) Capsule(c *capsule.Capsule, now time.Time) (*Metadata, error) {
	if !c.IsRevealed(now) {
		return nil, common.NewInvalid("Capsule is still locked")
	}

	image := b.appURL + defaultArtwork
	if c.HasImage() {
		image = fmt.Sprintf("%s/api/capsules/%s/image", b.appURL, c.ID)
	}
	lockDays := int(math.Round(c.LockDays()))

	return &Metadata{
		Name:        fmt.Sprintf("%s Capsule #%s", b.appName, c.ID),
		Description: c.Message,
		Image:       image,
		ExternalURL: fmt.Sprintf("%s/capsule/%s", b.appURL, c.ID),
		Attributes: []Attribute{
			{TraitType: "Owner FID", Value: c.FID},
			{TraitType: "Created", Value: c.CreatedAt.Unix(), DisplayType: "date"},
			{TraitType: "Unlocked", Value: c.UnlockDate.Unix(), DisplayType: "date"},
			{TraitType: "Lock Days", Value: lockDays, DisplayType: "number"},
			{TraitType: "Has Image", Value: yesNo(c.HasImage())},
			{TraitType: "Message Length", Value: len([]rune(c.Message)), DisplayType: "number"},
		},
	}, nil
}

// Contract 地址统一输出 EIP-55 校验格式
func (b *Builder) Contract() ContractMetadata {
	meta := ContractMetadata{
		Name:                 b.appName + " Capsules",
		Description:          "Time capsules sealed on Farcaster and revealed on Base.",
		Image:                b.appURL + defaultArtwork,
		ExternalLink:         b.appURL,
		SellerFeeBasisPoints: sellerFeeBasisPoints,
		ChainID:              b.chain.ChainID,
	}
	if ethcommon.IsHexAddress(b.chain.FeeRecipient) {
		meta.FeeRecipient = ethcommon.HexToAddress(b.chain.FeeRecipient).Hex()
	} else {
		meta.SellerFeeBasisPoints = 0
	}
	if ethcommon.IsHexAddress(b.chain.ContractAddress) {
		meta.Contract = ethcommon.HexToAddress(b.chain.ContractAddress).Hex()
	}
	return meta
}

func yesNo(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}
