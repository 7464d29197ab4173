package domain

import (
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Базовые идентификаторы
type AssetID = uuid.UUID
type OwnerID = uuid.UUID
type TenantID = uuid.UUID

// Категория ассета определяет лимиты, срок хранения и слотовую семантику
type Category string

const (
	CategoryProfilePicture    Category = "profile_picture"
	CategoryGallerySet        Category = "gallery_set"
	CategoryPortfolioItem     Category = "portfolio_item"
	CategoryApplicationPhoto  Category = "application_photo"
	CategoryVerificationPhoto Category = "verification_photo"
	CategoryGeneric           Category = "generic"
)

// DefaultSlotKey — слот по умолчанию для слотовых категорий
const DefaultSlotKey = "default"

// Categories возвращает все известные категории в стабильном порядке.
func Categories() []Category {
	return []Category{
		CategoryProfilePicture,
		CategoryGallerySet,
		CategoryPortfolioItem,
		CategoryApplicationPhoto,
		CategoryVerificationPhoto,
		CategoryGeneric,
	}
}

func (c Category) Valid() bool {
	for _, k := range Categories() {
		if c == k {
			return true
		}
	}
	return false
}

// SlotExclusive: не более одного active ассета на (owner, category, slot)
func (c Category) SlotExclusive() bool {
	switch c {
	case CategoryProfilePicture, CategoryApplicationPhoto, CategoryVerificationPhoto:
		return true
	default:
		return false
	}
}

// NormalizeSlot приводит ключ слота к каноничному виду для категории.
// Для неслотовых категорий слот не используется и всегда пустой.
func (c Category) NormalizeSlot(slot string) string {
	if !c.SlotExclusive() {
		return ""
	}
	slot = strings.TrimSpace(slot)
	if slot == "" {
		return DefaultSlotKey
	}
	return slot
}

type LifecycleState string

const (
	LifecycleActive          LifecycleState = "active"
	LifecyclePendingDeletion LifecycleState = "pending_deletion"
	LifecycleDeleted         LifecycleState = "deleted"
)

type ProcessingState string

const (
	ProcessingUnprocessed ProcessingState = "unprocessed"
	ProcessingRunning     ProcessingState = "processing"
	ProcessingDone        ProcessingState = "processed"
	ProcessingFailed      ProcessingState = "failed"
)

// Производный артефакт: путь относительно корня хранилища + размер
type Variant struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// Variants: имя варианта (thumb_sm, compressed, poster...) -> артефакт
type Variants map[string]Variant

// Метаданные ассета (без тела файла)
type Asset struct {
	ID       AssetID  `json:"id"`
	Seq      int64    `json:"-"` // монотонный номер строки, из него строится public id
	OwnerID  OwnerID  `json:"owner_id"`
	TenantID TenantID `json:"tenant_id"`

	ContentHash string `json:"content_hash"`
	MIME        string `json:"mime"`
	SizeBytes   int64  `json:"size_bytes"`

	// Размещение: shard_path — чистая функция от content_hash, не меняется после создания
	ShardPath    string `json:"shard_path"`
	StoredName   string `json:"stored_name"`
	OriginalName string `json:"original_name"`

	Category Category `json:"category"`
	SlotKey  string   `json:"slot_key,omitempty"`

	Lifecycle           LifecycleState `json:"lifecycle"`
	DeletionRequestedAt *time.Time     `json:"deletion_requested_at,omitempty"`
	DeletionRequestedBy *OwnerID       `json:"deletion_requested_by,omitempty"`

	Processing ProcessingState `json:"processing"`
	Variants   Variants        `json:"variants,omitempty"`

	CreatedAt time.Time `json:"created"`
	UpdatedAt time.Time `json:"updated"`
}

// OwnerScope — первый сегмент ключа в хранилище
func (a Asset) OwnerScope() string { return OwnerScope(a.OwnerID) }

// StorageKey — ключ основного файла: {ownerScope}/{shard...}/{storedName}
func (a Asset) StorageKey() string {
	return StorageKey(a.OwnerScope(), a.ShardPath, a.StoredName)
}

// Keys возвращает ключ оригинала и всех вариантов.
func (a Asset) Keys() []string {
	keys := make([]string, 0, 1+len(a.Variants))
	keys = append(keys, a.StorageKey())
	for _, v := range a.Variants {
		keys = append(keys, v.Path)
	}
	return keys
}

// Slot — адрес слота
func (a Asset) Slot() SlotRef {
	return SlotRef{OwnerID: a.OwnerID, Category: a.Category, SlotKey: a.SlotKey}
}

func OwnerScope(owner OwnerID) string { return owner.String() }

func StorageKey(ownerScope, shardPath, storedName string) string {
	return path.Join(ownerScope, shardPath, storedName)
}

// Адрес слотовой позиции владельца
type SlotRef struct {
	OwnerID  OwnerID  `json:"owner_id"`
	Category Category `json:"category"`
	SlotKey  string   `json:"slot_key"`
}
