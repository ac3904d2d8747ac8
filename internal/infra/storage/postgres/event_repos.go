package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jmoiron/sqlx"

	"github.com/openfloor/indexer/internal/core/domain"
	"github.com/openfloor/indexer/internal/infra/storage"
)

// eventBaseRow holds the columns shared by every raw event table.
type eventBaseRow struct {
	IdempotenceKey string `db:"idempotence_key"`
	TxHash         string `db:"tx_hash"`
	BlockHash      string `db:"block_hash"`
	BlockNumber    uint64 `db:"block_number"`
	LogIndex       uint   `db:"log_index"`
	BatchIndex     uint   `db:"batch_index"`
	BlockTimestamp uint64 `db:"block_timestamp"`
}

func (r eventBaseRow) toBase(emitter string) domain.BaseEventParams {
	return domain.BaseEventParams{
		Address:    addrFromDB(emitter),
		TxHash:     hashFromDB(r.TxHash),
		BlockHash:  hashFromDB(r.BlockHash),
		Block:      r.BlockNumber,
		LogIndex:   r.LogIndex,
		BatchIndex: r.BatchIndex,
		Timestamp:  r.BlockTimestamp,
	}
}

func existsByKey(ctx context.Context, q sqlx.ExtContext, table, key string) (bool, error) {
	var one int
	err := sqlx.GetContext(ctx, q, &one,
		fmt.Sprintf("SELECT 1 FROM %s WHERE idempotence_key = $1", table), key)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check %s key %s: %w", table, key, err)
	}
	return true, nil
}

type fillRepo struct {
	q sqlx.ExtContext
}

type fillRow struct {
	eventBaseRow
	Emitter         string          `db:"emitter"`
	OrderKind       string          `db:"order_kind"`
	OrderID         string          `db:"order_id"`
	OrderSide       string          `db:"order_side"`
	Maker           string          `db:"maker"`
	Taker           string          `db:"taker"`
	Contract        string          `db:"contract"`
	TokenID         sql.NullString  `db:"token_id"`
	Amount          sql.NullString  `db:"amount"`
	Currency        string          `db:"currency"`
	Price           sql.NullString  `db:"price"`
	EffectiveAmount sql.NullString  `db:"effective_amount"`
	USDPrice        sql.NullFloat64 `db:"usd_price"`
	NativePrice     sql.NullFloat64 `db:"native_price"`
	Royalties       []byte          `db:"royalties"`
	Attribution     []byte          `db:"attribution"`
	WashScore       sql.NullFloat64 `db:"wash_score"`
	NeedsEnrichment bool            `db:"needs_enrichment"`
}

func (r fillRow) toDomain() (*storage.FillEvent, error) {
	tokenID, err := bigFromDB(r.TokenID)
	if err != nil {
		return nil, err
	}
	amount, err := bigFromDB(r.Amount)
	if err != nil {
		return nil, err
	}
	price, err := bigFromDB(r.Price)
	if err != nil {
		return nil, err
	}
	effective, err := mustBigFromDB(r.EffectiveAmount)
	if err != nil {
		return nil, err
	}

	data := domain.FillData{
		OrderID:   r.OrderID,
		OrderSide: domain.Side(r.OrderSide),
		Maker:     addrFromDB(r.Maker),
		Taker:     addrFromDB(r.Taker),
		Contract:  addrFromDB(r.Contract),
		TokenID:   tokenID,
		Amount:    amount,
		Currency:  addrFromDB(r.Currency),
		Price:     price,
	}
	if r.USDPrice.Valid {
		data.USDPrice = &r.USDPrice.Float64
	}
	if r.NativePrice.Valid {
		data.NativePrice = &r.NativePrice.Float64
	}
	if r.WashScore.Valid {
		data.WashScore = &r.WashScore.Float64
	}
	if len(r.Royalties) > 0 {
		if err := json.Unmarshal(r.Royalties, &data.Royalties); err != nil {
			return nil, fmt.Errorf("decode royalties: %w", err)
		}
	}
	if len(r.Attribution) > 0 {
		if err := json.Unmarshal(r.Attribution, &data.Attribution); err != nil {
			return nil, fmt.Errorf("decode attribution: %w", err)
		}
	}

	return &storage.FillEvent{
		Base:            r.toBase(r.Emitter),
		OrderKind:       domain.OrderKind(r.OrderKind),
		Data:            data,
		EffectiveAmount: effective,
		NeedsEnrichment: r.NeedsEnrichment,
	}, nil
}

const fillColumns = `
	idempotence_key, tx_hash, block_hash, block_number, log_index,
	batch_index, block_timestamp, emitter, order_kind, order_id,
	order_side, maker, taker, contract, token_id, amount, currency,
	price, effective_amount, usd_price, native_price, royalties,
	attribution, wash_score, needs_enrichment
`

func (r *fillRepo) Exists(ctx context.Context, key string) (bool, error) {
	return existsByKey(ctx, r.q, "fill_events", key)
}

func (r *fillRepo) Save(ctx context.Context, ev *storage.FillEvent) error {
	royalties, attribution, err := marshalEnrichment(&ev.Data)
	if err != nil {
		return err
	}

	_, err = r.q.ExecContext(ctx, `
		INSERT INTO fill_events (`+fillColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,
		        $17,$18,$19,$20,$21,$22,$23,$24,$25)
		ON CONFLICT (idempotence_key) DO NOTHING
	`,
		ev.Base.IdempotenceKey(),
		hashToDB(ev.Base.TxHash),
		hashToDB(ev.Base.BlockHash),
		ev.Base.Block,
		ev.Base.LogIndex,
		ev.Base.BatchIndex,
		ev.Base.Timestamp,
		addrToDB(ev.Base.Address),
		string(ev.OrderKind),
		ev.Data.OrderID,
		string(ev.Data.OrderSide),
		addrToDB(ev.Data.Maker),
		addrToDB(ev.Data.Taker),
		addrToDB(ev.Data.Contract),
		bigToDB(ev.Data.TokenID),
		bigToDB(ev.Data.Amount),
		addrToDB(ev.Data.Currency),
		bigToDB(ev.Data.Price),
		bigToDB(ev.EffectiveAmount),
		ev.Data.USDPrice,
		ev.Data.NativePrice,
		royalties,
		attribution,
		ev.Data.WashScore,
		ev.NeedsEnrichment,
	)
	if err != nil {
		return fmt.Errorf("save fill %s: %w", ev.Base.IdempotenceKey(), err)
	}
	return nil
}

func (r *fillRepo) ByBlockHash(ctx context.Context, hash common.Hash) ([]*storage.FillEvent, error) {
	var rows []fillRow
	err := sqlx.SelectContext(ctx, r.q, &rows, `
		SELECT `+fillColumns+` FROM fill_events
		WHERE block_hash = $1
		ORDER BY log_index, batch_index
	`, hashToDB(hash))
	if err != nil {
		return nil, fmt.Errorf("fills by block %s: %w", hash.Hex(), err)
	}
	return fillRowsToDomain(rows)
}

func (r *fillRepo) DeleteByBlockHash(ctx context.Context, hash common.Hash) error {
	_, err := r.q.ExecContext(ctx,
		"DELETE FROM fill_events WHERE block_hash = $1", hashToDB(hash))
	if err != nil {
		return fmt.Errorf("delete fills of block %s: %w", hash.Hex(), err)
	}
	return nil
}

func (r *fillRepo) UpdateEnrichment(ctx context.Context, key string, ev *storage.FillEvent) error {
	royalties, attribution, err := marshalEnrichment(&ev.Data)
	if err != nil {
		return err
	}

	_, err = r.q.ExecContext(ctx, `
		UPDATE fill_events SET
			usd_price = $2,
			native_price = $3,
			royalties = $4,
			attribution = $5,
			wash_score = $6,
			needs_enrichment = $7
		WHERE idempotence_key = $1
	`, key, ev.Data.USDPrice, ev.Data.NativePrice, royalties, attribution,
		ev.Data.WashScore, ev.NeedsEnrichment)
	if err != nil {
		return fmt.Errorf("update enrichment %s: %w", key, err)
	}
	return nil
}

func (r *fillRepo) PendingEnrichment(ctx context.Context, limit int) ([]*storage.FillEvent, error) {
	var rows []fillRow
	err := sqlx.SelectContext(ctx, r.q, &rows, `
		SELECT `+fillColumns+` FROM fill_events
		WHERE needs_enrichment
		ORDER BY block_number, log_index, batch_index
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("pending enrichment: %w", err)
	}
	return fillRowsToDomain(rows)
}

func fillRowsToDomain(rows []fillRow) ([]*storage.FillEvent, error) {
	out := make([]*storage.FillEvent, 0, len(rows))
	for _, row := range rows {
		ev, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

func marshalEnrichment(data *domain.FillData) (royalties, attribution []byte, err error) {
	if data.Royalties != nil {
		royalties, err = json.Marshal(data.Royalties)
		if err != nil {
			return nil, nil, fmt.Errorf("encode royalties: %w", err)
		}
	}
	if data.Attribution != nil {
		attribution, err = json.Marshal(data.Attribution)
		if err != nil {
			return nil, nil, fmt.Errorf("encode attribution: %w", err)
		}
	}
	return royalties, attribution, nil
}

type cancelRepo struct {
	q sqlx.ExtContext
}

type cancelRow struct {
	eventBaseRow
	Emitter    string `db:"emitter"`
	OrderKind  string `db:"order_kind"`
	OrderID    string `db:"order_id"`
	Maker      string `db:"maker"`
	PrevStatus string `db:"prev_status"`
	Applied    bool   `db:"applied"`
}

const cancelColumns = `
	idempotence_key, tx_hash, block_hash, block_number, log_index,
	batch_index, block_timestamp, emitter, order_kind, order_id, maker,
	prev_status, applied
`

func (r *cancelRepo) Exists(ctx context.Context, key string) (bool, error) {
	return existsByKey(ctx, r.q, "cancel_events", key)
}

func (r *cancelRepo) Save(ctx context.Context, ev *storage.CancelEvent) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO cancel_events (`+cancelColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (idempotence_key) DO NOTHING
	`,
		ev.Base.IdempotenceKey(),
		hashToDB(ev.Base.TxHash),
		hashToDB(ev.Base.BlockHash),
		ev.Base.Block,
		ev.Base.LogIndex,
		ev.Base.BatchIndex,
		ev.Base.Timestamp,
		addrToDB(ev.Base.Address),
		string(ev.OrderKind),
		ev.Data.OrderID,
		addrToDB(ev.Data.Maker),
		string(ev.PrevStatus),
		ev.Applied,
	)
	if err != nil {
		return fmt.Errorf("save cancel %s: %w", ev.Base.IdempotenceKey(), err)
	}
	return nil
}

func (r *cancelRepo) ByBlockHash(ctx context.Context, hash common.Hash) ([]*storage.CancelEvent, error) {
	var rows []cancelRow
	err := sqlx.SelectContext(ctx, r.q, &rows, `
		SELECT `+cancelColumns+` FROM cancel_events
		WHERE block_hash = $1
		ORDER BY log_index, batch_index
	`, hashToDB(hash))
	if err != nil {
		return nil, fmt.Errorf("cancels by block %s: %w", hash.Hex(), err)
	}

	out := make([]*storage.CancelEvent, 0, len(rows))
	for _, row := range rows {
		out = append(out, &storage.CancelEvent{
			Base:      row.toBase(row.Emitter),
			OrderKind: domain.OrderKind(row.OrderKind),
			Data: domain.CancelData{
				OrderID: row.OrderID,
				Maker:   addrFromDB(row.Maker),
			},
			PrevStatus: domain.FillabilityStatus(row.PrevStatus),
			Applied:    row.Applied,
		})
	}
	return out, nil
}

func (r *cancelRepo) DeleteByBlockHash(ctx context.Context, hash common.Hash) error {
	_, err := r.q.ExecContext(ctx,
		"DELETE FROM cancel_events WHERE block_hash = $1", hashToDB(hash))
	if err != nil {
		return fmt.Errorf("delete cancels of block %s: %w", hash.Hex(), err)
	}
	return nil
}

type transferRepo struct {
	q sqlx.ExtContext
}

type transferRow struct {
	eventBaseRow
	Contract string         `db:"contract"`
	TokenID  sql.NullString `db:"token_id"`
	From     string         `db:"from_address"`
	To       string         `db:"to_address"`
	Amount   sql.NullString `db:"amount"`
}

const transferColumns = `
	idempotence_key, tx_hash, block_hash, block_number, log_index,
	batch_index, block_timestamp, contract, token_id, from_address,
	to_address, amount
`

func (r *transferRepo) Exists(ctx context.Context, key string) (bool, error) {
	return existsByKey(ctx, r.q, "nft_transfer_events", key)
}

func (r *transferRepo) Save(ctx context.Context, ev *storage.TransferEvent) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO nft_transfer_events (`+transferColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (idempotence_key) DO NOTHING
	`,
		ev.Base.IdempotenceKey(),
		hashToDB(ev.Base.TxHash),
		hashToDB(ev.Base.BlockHash),
		ev.Base.Block,
		ev.Base.LogIndex,
		ev.Base.BatchIndex,
		ev.Base.Timestamp,
		addrToDB(ev.Data.Contract),
		bigToDB(ev.Data.TokenID),
		addrToDB(ev.Data.From),
		addrToDB(ev.Data.To),
		bigToDB(ev.Data.Amount),
	)
	if err != nil {
		return fmt.Errorf("save transfer %s: %w", ev.Base.IdempotenceKey(), err)
	}
	return nil
}

func (r *transferRepo) ByBlockHash(ctx context.Context, hash common.Hash) ([]*storage.TransferEvent, error) {
	var rows []transferRow
	err := sqlx.SelectContext(ctx, r.q, &rows, `
		SELECT `+transferColumns+` FROM nft_transfer_events
		WHERE block_hash = $1
		ORDER BY log_index, batch_index
	`, hashToDB(hash))
	if err != nil {
		return nil, fmt.Errorf("transfers by block %s: %w", hash.Hex(), err)
	}

	out := make([]*storage.TransferEvent, 0, len(rows))
	for _, row := range rows {
		tokenID, err := mustBigFromDB(row.TokenID)
		if err != nil {
			return nil, err
		}
		amount, err := mustBigFromDB(row.Amount)
		if err != nil {
			return nil, err
		}
		out = append(out, &storage.TransferEvent{
			Base: row.toBase(row.Contract),
			Data: domain.TransferData{
				Contract: addrFromDB(row.Contract),
				TokenID:  tokenID,
				From:     addrFromDB(row.From),
				To:       addrFromDB(row.To),
				Amount:   amount,
			},
		})
	}
	return out, nil
}

func (r *transferRepo) DeleteByBlockHash(ctx context.Context, hash common.Hash) error {
	_, err := r.q.ExecContext(ctx,
		"DELETE FROM nft_transfer_events WHERE block_hash = $1", hashToDB(hash))
	if err != nil {
		return fmt.Errorf("delete transfers of block %s: %w", hash.Hex(), err)
	}
	return nil
}
