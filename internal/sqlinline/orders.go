package sqlinline

// QUpsertOrder creates or refreshes the order for an external reference.
// A conflict keeps the existing status so a replayed commerce webhook
// cannot reset a running or finished order.
const QUpsertOrder = `--sql b81e6f05-2d4c-49ab-8e1f-7a9c03d5b614
insert into orders (id, external_ref, source_image_url, style, status)
values ($1, $2, $3, $4, $5)
on conflict (external_ref) do update
set source_image_url = excluded.source_image_url,
    style = excluded.style,
    updated_at = now()
returning id, external_ref, source_image_url, style, status, created_at, updated_at;
`

const QOrderByID = `--sql 5ac82e97-61b0-4d3f-a2c8-904f7e1d6b35
select id, external_ref, source_image_url, style, status, created_at, updated_at
from orders
where id = $1;
`

// QJobWithOrder resolves a provider job id to its job row and owning order.
const QJobWithOrder = `--sql e2743a1b-95cd-4086-b7f1-28d60c4a9ef7
select j.provider_job_id,
       j.order_id,
       coalesce(j.output_image_url, ''),
       coalesce(j.output_video_url, ''),
       o.external_ref,
       o.source_image_url,
       o.style,
       o.status,
       o.created_at,
       o.updated_at
from jobs j
join orders o on o.id = j.order_id
where j.provider_job_id = $1;
`

// QMarkOrderStatus applies a status only when it changes something and the
// order is not already terminal; SUCCEEDED and FAILED are absorbing.
const QMarkOrderStatus = `--sql 9c15b8d4-07ae-42f6-8d23-5b1f60c7a498
update orders
set status = $2, updated_at = now()
where id = $1
  and status <> $2
  and status not in ('SUCCEEDED', 'FAILED');
`

// QMarkOrderStatusFromProcessing is the poller's guarded variant: it only
// ever promotes a PROCESSING order, so PENDING is never advanced by a poll
// and terminal states are never regressed.
const QMarkOrderStatusFromProcessing = `--sql 6d38f2a0-c491-4b57-9e06-d72c81b5f043
update orders
set status = $2, updated_at = now()
where id = $1
  and status = 'PROCESSING'
  and status <> $2;
`

// QFillJobOutputs fills output URLs that are still null; a set value is
// never overwritten, which makes webhook and poller writes commutative.
const QFillJobOutputs = `--sql 18e5c7b9-3f62-4da0-bc84-06a9d42e715f
update jobs
set output_image_url = coalesce(output_image_url, nullif($2, '')),
    output_video_url = coalesce(output_video_url, nullif($3, '')),
    updated_at = now()
where provider_job_id = $1;
`

// QStaleProcessingJobs feeds the reconciler: jobs whose order has sat in
// PROCESSING longer than the given number of seconds.
const QStaleProcessingJobs = `--sql a407d9e2-56b8-4c13-90fa-e38b125c67d0
select j.provider_job_id
from jobs j
join orders o on o.id = j.order_id
where o.status = 'PROCESSING'
  and o.updated_at < now() - make_interval(secs => $1)
order by o.updated_at
limit $2;
`
