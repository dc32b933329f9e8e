package sqlinline

// QInsertWebhookEvent records a commerce webhook delivery exactly once.
// Zero rows affected means the event id was already seen.
const QInsertWebhookEvent = `--sql f6b09c38-72d5-4e6a-8103-94c5e7a2d1b6
insert into webhook_events (event_id, topic)
values ($1, $2)
on conflict (event_id) do nothing;
`
