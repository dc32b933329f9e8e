package sqlinline

// QSchema bootstraps the three tables the service owns. Jobs cascade with
// their order; webhook_events is a pure dedup ledger.
const QSchema = `--sql 3f9d2c41-8a77-4f1e-9b2d-6c0a51e8f3a2
create table if not exists orders (
  id               text primary key,
  external_ref     text not null unique,
  source_image_url text not null,
  style            text not null,
  status           text not null default 'PENDING',
  created_at       timestamptz not null default now(),
  updated_at       timestamptz not null default now()
);
create table if not exists jobs (
  provider_job_id  text primary key,
  order_id         text not null references orders(id) on delete cascade,
  output_image_url text,
  output_video_url text,
  created_at       timestamptz not null default now(),
  updated_at       timestamptz not null default now()
);
create table if not exists webhook_events (
  event_id    text primary key,
  topic       text not null,
  received_at timestamptz not null default now()
);
`
